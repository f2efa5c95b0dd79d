// Package collaborators fans pipeline.Command values out to the CI, VCS,
// and UI collaborator bindings, each on its own bounded worker pool so a
// slow or failing collaborator never backs up another's queue, grounded on
// the teacher's system/events/dispatcher.go worker-pool-over-channel shape.
package collaborators

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/mergequeue/internal/metrics"
	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

// RouterConfig sizes each collaborator's worker pool.
type RouterConfig struct {
	CIWorkers, CIQueueSize   int
	VCSWorkers, VCSQueueSize int
	UIWorkers, UIQueueSize   int
}

// DefaultRouterConfig matches a single collaborator instance of each kind
// with modest queue depth; multiple workers only help when the bound
// collaborator call itself can run concurrently without violating its own
// ordering requirements (true for CI/UI HTTP calls, and VCS below is kept
// to a single worker since a local git checkout cannot be operated on
// concurrently).
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CIWorkers: 4, CIQueueSize: 128,
		VCSWorkers: 1, VCSQueueSize: 128,
		UIWorkers: 4, UIQueueSize: 128,
	}
}

// Router implements dispatcher.Commands, routing each Command kind to its
// collaborator's worker pool via a non-blocking send: a full queue drops
// the command and logs, rather than stalling the pipeline consumer
// goroutine that produced it.
type Router struct {
	ci  pipeline.Ci
	vcs pipeline.Vcs
	ui  pipeline.Ui

	metrics *metrics.Metrics
	log     *logger.Logger

	ciQueue  chan func()
	vcsQueue chan func()
	uiQueue  chan func()

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRouter starts cfg's worker pools immediately; call Stop to drain and
// halt them.
func NewRouter(ci pipeline.Ci, vcs pipeline.Vcs, ui pipeline.Ui, m *metrics.Metrics, log *logger.Logger, cfg RouterConfig) *Router {
	if log == nil {
		log = logger.NewFromEnv("collaborators")
	}
	r := &Router{
		ci: ci, vcs: vcs, ui: ui,
		metrics:  m,
		log:      log,
		ciQueue:  make(chan func(), cfg.CIQueueSize),
		vcsQueue: make(chan func(), cfg.VCSQueueSize),
		uiQueue:  make(chan func(), cfg.UIQueueSize),
		stop:     make(chan struct{}),
	}
	r.startPool(r.ciQueue, cfg.CIWorkers)
	r.startPool(r.vcsQueue, cfg.VCSWorkers)
	r.startPool(r.uiQueue, cfg.UIWorkers)
	return r
}

func (r *Router) startPool(queue chan func(), workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-r.stop:
					return
				case job := <-queue:
					job()
				}
			}
		}()
	}
}

// Submit implements dispatcher.Commands.
func (r *Router) Submit(ctx context.Context, cmd pipeline.Command) {
	switch c := cmd.(type) {
	case pipeline.StartBuild:
		r.enqueue(r.ciQueue, "ci", func() {
			r.call("ci", func() error { return r.ci.StartBuild(c.Pipeline, c.Commit) })
		})
	case pipeline.SendStatus:
		r.enqueue(r.uiQueue, "ui", func() {
			r.call("ui", func() error { return r.ui.SendStatus(c.Pipeline, c.Pr, c.Status) })
		})
	case pipeline.MergeToStaging:
		r.enqueue(r.vcsQueue, "vcs", func() {
			r.call("vcs", func() error { return r.vcs.MergeToStaging(c.Pipeline, c.PullCommit, c.Message, c.Remote) })
		})
	case pipeline.MoveStagingToMaster:
		r.enqueue(r.vcsQueue, "vcs", func() {
			r.call("vcs", func() error { return r.vcs.MoveStagingToMaster(c.Pipeline, c.Commit) })
		})
	}
}

func (r *Router) enqueue(queue chan func(), who string, job func()) {
	select {
	case queue <- job:
	default:
		r.log.WithFields(nil).WithField("collaborator", who).Warn("collaborator queue full, dropping command")
	}
}

func (r *Router) call(who string, fn func() error) {
	start := time.Now()
	err := fn()
	outcome := "success"
	if err != nil {
		outcome = "error"
		r.log.WithFields(nil).WithField("collaborator", who).WithError(err).Error("collaborator call failed")
	}
	if r.metrics != nil {
		r.metrics.RecordCollaboratorCall(who, outcome, time.Since(start))
	}
}

// Stop halts every worker pool. It does not wait for queued-but-unstarted
// jobs; in-flight calls finish naturally since they don't select on stop.
func (r *Router) Stop() {
	close(r.stop)
	r.wg.Wait()
}
