package pipeline

import "context"

// Store is the durable state contract the engine depends on. Every method
// must be atomic with respect to other calls on the same PipelineId; the
// composite operations (CancelByPr, CancelByPrDifferentCommit) must appear as
// a single transaction to any concurrent reader. Implementations live under
// internal/storage.
//
// Store never returns partial results: either an operation fully applies and
// returns nil, or it fails and the engine aborts the event without emitting
// any commands.
type Store interface {
	// PushQueue appends entry to the tail of the pipeline's queue.
	PushQueue(ctx context.Context, pipeline PipelineId, entry QueueEntry) error
	// PopQueue removes and returns the head of the queue, if any.
	PopQueue(ctx context.Context, pipeline PipelineId) (QueueEntry, bool, error)
	// ListQueue returns the queue in FIFO order, for inspection/reconciliation.
	ListQueue(ctx context.Context, pipeline PipelineId) ([]QueueEntry, error)

	// PutRunning installs entry as the pipeline's running slot, replacing
	// whatever was there.
	PutRunning(ctx context.Context, pipeline PipelineId, entry RunningEntry) error
	// TakeRunning removes and returns the running slot, if occupied.
	TakeRunning(ctx context.Context, pipeline PipelineId) (RunningEntry, bool, error)
	// PeekRunning returns the running slot without removing it.
	PeekRunning(ctx context.Context, pipeline PipelineId) (RunningEntry, bool, error)

	// AddPending records/replaces pr's latest known head commit.
	AddPending(ctx context.Context, pipeline PipelineId, entry PendingEntry) error
	// PeekPendingByPr returns pr's pending entry without removing it.
	PeekPendingByPr(ctx context.Context, pipeline PipelineId, pr Pr) (PendingEntry, bool, error)
	// TakePendingByPr removes and returns pr's pending entry, if any.
	TakePendingByPr(ctx context.Context, pipeline PipelineId, pr Pr) (PendingEntry, bool, error)
	// ListPending returns all tracked pending entries, for inspection.
	ListPending(ctx context.Context, pipeline PipelineId) ([]PendingEntry, error)

	// CancelByPr removes pr's queue entries and marks the running entry
	// canceled if it belongs to pr, as a single transaction; pending entries
	// are left as they are. Idempotent: canceling an already-canceled or
	// absent pr is a no-op.
	CancelByPr(ctx context.Context, pipeline PipelineId, pr Pr) error
	// CancelByPrDifferentCommit cancels pr's queue/running occurrences only
	// if their commit differs from commit, atomically. Returns whether
	// anything was canceled.
	CancelByPrDifferentCommit(ctx context.Context, pipeline PipelineId, pr Pr, commit Commit) (bool, error)
}
