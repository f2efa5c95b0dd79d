// Package reconcile runs a periodic, read-only sweep over pipeline state
// for metrics/observability purposes, grounded on the cron-driven sweep
// pattern in the teacher's services/automation trigger scanning, built on
// github.com/robfig/cron/v3.
//
// The reconciler never calls pipeline.Handle and never invokes a mutating
// Store method. It exists entirely outside the engine's state machine.
package reconcile

import (
	"context"
	"strconv"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/mergequeue/internal/metrics"
	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

// Reader is the read-only subset of pipeline.Store the reconciler uses. A
// concrete Store satisfies it without change; it exists so the reconciler's
// dependency can never widen to a mutating call by accident.
type Reader interface {
	ListQueue(ctx context.Context, id pipeline.PipelineId) ([]pipeline.QueueEntry, error)
	PeekRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error)
}

// Reconciler periodically reports queue depth and running-slot occupancy
// for a fixed set of pipelines.
type Reconciler struct {
	store     Reader
	metrics   *metrics.Metrics
	pipelines []pipeline.PipelineId
	log       *logger.Logger
	cron      *cron.Cron
}

// New builds a Reconciler over pipelines. Start sets its schedule (a
// robfig/cron expression, e.g. "@every 1m").
func New(store Reader, m *metrics.Metrics, pipelines []pipeline.PipelineId, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewFromEnv("reconcile")
	}
	return &Reconciler{
		store:     store,
		metrics:   m,
		pipelines: pipelines,
		log:       log,
		cron:      cron.New(),
	}
}

// Start schedules the sweep at spec and begins running it. Call Stop to
// halt the underlying cron scheduler.
func (r *Reconciler) Start(ctx context.Context, spec string) error {
	_, err := r.cron.AddFunc(spec, func() { r.sweep(ctx) })
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reconciler) sweep(ctx context.Context) {
	for _, id := range r.pipelines {
		r.sweepOne(ctx, id)
	}
}

func (r *Reconciler) sweepOne(ctx context.Context, id pipeline.PipelineId) {
	entry := r.log.WithContext(logger.WithPipeline(ctx, int64(id)))

	queue, err := r.store.ListQueue(ctx, id)
	if err != nil {
		entry.WithError(err).Warn("reconcile: list queue failed")
		return
	}
	r.metrics.SetQueueDepth(pipelineLabel(id), len(queue))

	_, occupied, err := r.store.PeekRunning(ctx, id)
	if err != nil {
		entry.WithError(err).Warn("reconcile: peek running failed")
		return
	}
	r.metrics.SetRunningOccupied(pipelineLabel(id), occupied)
}

func pipelineLabel(id pipeline.PipelineId) string {
	return strconv.FormatInt(int64(id), 10)
}
