// Package dispatcher implements the per-pipeline single-threaded consumer
// that drives internal/pipeline.Handle and fans the resulting commands out
// to collaborator workers, grounded on the teacher's
// system/events/dispatcher.go worker-pool-over-channel design, narrowed from
// one-queue-many-workers to one-goroutine-per-pipeline so events for a given
// pipeline are always handled in arrival order.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

// Commands is where a Dispatcher sends every Command that pipeline.Handle
// returns. collaborators.Router implements it, fanning each command out by
// kind to the CI, VCS or UI worker pool.
type Commands interface {
	Submit(ctx context.Context, cmd pipeline.Command)
}

// Config controls queue sizing for each per-pipeline lane.
type Config struct {
	// QueueSize bounds the number of events buffered per pipeline before
	// Dispatch starts blocking the caller. Zero selects a default of 64.
	QueueSize int
}

// Dispatcher owns one buffered event channel and consumer goroutine per
// PipelineId it has seen, so that events belonging to the same pipeline are
// always handled one at a time and in the order they were submitted, while
// different pipelines make progress concurrently.
type Dispatcher struct {
	store     pipeline.Store
	commands  Commands
	queueSize int
	log       *logger.Logger

	mu     sync.Mutex
	lanes  map[pipeline.PipelineId]*lane
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type lane struct {
	events chan pipeline.Event
}

// New builds a Dispatcher. store is shared by every pipeline's consumer
// goroutine; internal/pipeline.Handle never blocks on I/O beyond the Store
// calls so lock contention inside store implementations should stay low even
// with many pipelines running concurrently.
func New(store pipeline.Store, commands Commands, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log == nil {
		log = logger.NewFromEnv("dispatcher")
	}
	return &Dispatcher{
		store:     store,
		commands:  commands,
		queueSize: cfg.QueueSize,
		log:       log,
		lanes:     make(map[pipeline.PipelineId]*lane),
		stopCh:    make(chan struct{}),
	}
}

// Dispatch enqueues event onto its pipeline's lane, starting the lane's
// consumer goroutine on first use. It returns once the event has been
// accepted onto the lane, not once it has been handled.
func (d *Dispatcher) Dispatch(ctx context.Context, event pipeline.Event) error {
	l := d.laneFor(event.Pipeline())

	select {
	case l.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return fmt.Errorf("dispatcher stopped")
	}
}

func (d *Dispatcher) laneFor(id pipeline.PipelineId) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.lanes[id]; ok {
		return l
	}

	l := &lane{events: make(chan pipeline.Event, d.queueSize)}
	d.lanes[id] = l

	d.wg.Add(1)
	go d.run(id, l)
	return l
}

func (d *Dispatcher) run(id pipeline.PipelineId, l *lane) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case event := <-l.events:
			d.handle(id, event)
		}
	}
}

// handle runs one event through pipeline.Handle. A Store error here means the
// durable state the engine just tried to read or write is no longer trusted,
// so per the store's fatal-on-failure contract this escalates to Fatal
// (logs then os.Exit(1)) rather than dropping the event and moving the lane
// on: the process is expected to restart under its supervisor and reconcile
// against whatever the store actually persisted, the same CRITICAL-and-exit
// pattern the teacher's cmd/gateway and cmd/appserver use for unrecoverable
// startup failures, generalized here to an unrecoverable runtime one.
func (d *Dispatcher) handle(id pipeline.PipelineId, event pipeline.Event) {
	ctx := logger.Attach(logger.WithPipeline(context.Background(), int64(id)), d.log)

	cmds, err := pipeline.Handle(ctx, d.store, event)
	if err != nil {
		d.log.WithContext(ctx).WithField("event", fmt.Sprintf("%T", event)).WithError(err).
			Fatal("pipeline handle failed: aborting process for restart")
		return
	}

	for _, cmd := range cmds {
		d.commands.Submit(ctx, cmd)
	}
}

// Stop signals every lane's consumer goroutine to exit and waits for them to
// return. Events still buffered on a lane when Stop is called are not
// handled. In-flight Dispatch calls blocked on a full lane return an error
// rather than hang.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}
