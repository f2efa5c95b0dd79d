package pipeline

import (
	"context"
	"fmt"

	"github.com/r3e-network/mergequeue/pkg/logger"
)

// warner is the minimal logging surface the discard/anomaly branches need;
// *logrus.Entry satisfies it.
type warner interface {
	Warn(args ...interface{})
}

// Handle applies a single event to pipeline's store and returns the outbound
// commands it produces. Handle is the only place pipeline state changes: it
// never blocks on Ci/Ui/Vcs I/O, it only reads and writes store and returns
// data describing what should happen next. Two events for the same
// PipelineId must never be handled concurrently; events for different
// pipelines are fully independent (see internal/dispatcher).
func Handle(ctx context.Context, store Store, event Event) ([]Command, error) {
	pipeline := event.Pipeline()
	log := logger.FromContext(ctx).WithFields(map[string]interface{}{"pipeline_id": pipeline})

	var (
		cmds []Command
		err  error
	)

	switch e := event.(type) {
	case Approved:
		cmds, err = handleApproved(ctx, store, pipeline, e)
	case Opened:
		err = store.AddPending(ctx, pipeline, PendingEntry{Pr: e.Pr, Commit: e.Commit})
	case Changed:
		cmds, err = handleChanged(ctx, store, pipeline, e)
	case Closed:
		err = handleClosed(ctx, store, pipeline, e)
	case Canceled:
		err = store.CancelByPr(ctx, pipeline, e.Pr)
	case MergedToStaging:
		cmds, err = handleMergedToStaging(ctx, store, pipeline, e, log)
	case FailedMergeToStaging:
		cmds, err = handleFailedMergeToStaging(ctx, store, pipeline, e, log)
	case BuildStarted:
		cmds, err = handleBuildStarted(ctx, store, pipeline, e)
	case BuildFailed:
		cmds, err = handleBuildFailed(ctx, store, pipeline, e, log)
	case BuildSucceeded:
		cmds, err = handleBuildSucceeded(ctx, store, pipeline, e, log)
	case FailedMoveToMaster:
		cmds, err = handleFailedMoveToMaster(ctx, store, pipeline, e, log)
	case MovedToMaster:
		cmds, err = handleMovedToMaster(ctx, store, pipeline, e, log)
	default:
		return nil, fmt.Errorf("pipeline: unknown event type %T", event)
	}
	if err != nil {
		return nil, err
	}

	promoted, err := promote(ctx, store, pipeline)
	if err != nil {
		return nil, err
	}
	return append(cmds, promoted...), nil
}

func handleApproved(ctx context.Context, store Store, pipeline PipelineId, e Approved) ([]Command, error) {
	pending, havePending, err := store.PeekPendingByPr(ctx, pipeline, e.Pr)
	if err != nil {
		return nil, err
	}

	var effective Commit
	switch {
	case e.Commit != nil && havePending:
		if !e.Commit.Equal(pending.Commit) {
			return []Command{sendStatus(pipeline, e.Pr, Status{Kind: StatusInvalidated})}, nil
		}
		effective = e.Commit
	case e.Commit != nil && !havePending:
		effective = e.Commit
	case e.Commit == nil && havePending:
		effective = pending.Commit
	default:
		return []Command{sendStatus(pipeline, e.Pr, Status{Kind: StatusNoCommit})}, nil
	}

	if err := store.CancelByPr(ctx, pipeline, e.Pr); err != nil {
		return nil, err
	}
	if err := store.PushQueue(ctx, pipeline, QueueEntry{Pr: e.Pr, Commit: effective, Message: e.Message}); err != nil {
		return nil, err
	}
	return nil, nil
}

func handleChanged(ctx context.Context, store Store, pipeline PipelineId, e Changed) ([]Command, error) {
	invalidated, err := store.CancelByPrDifferentCommit(ctx, pipeline, e.Pr, e.Commit)
	if err != nil {
		return nil, err
	}
	if err := store.AddPending(ctx, pipeline, PendingEntry{Pr: e.Pr, Commit: e.Commit}); err != nil {
		return nil, err
	}
	if invalidated {
		return []Command{sendStatus(pipeline, e.Pr, Status{Kind: StatusInvalidated})}, nil
	}
	return nil, nil
}

func handleClosed(ctx context.Context, store Store, pipeline PipelineId, e Closed) error {
	if _, _, err := store.TakePendingByPr(ctx, pipeline, e.Pr); err != nil {
		return err
	}
	return store.CancelByPr(ctx, pipeline, e.Pr)
}

// handleMergedToStaging implements the MergedToStaging transition. A
// mismatched/duplicate/already-built event is discarded with a warning and
// the running entry is dropped outright, same as a canceled entry and same
// as every branch of handleFailedMergeToStaging below.
func handleMergedToStaging(ctx context.Context, store Store, pipeline PipelineId, e MergedToStaging, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("MergedToStaging with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.PullCommit.Equal(e.PullCommit) || running.HasMergeCommit() || running.Built {
		log.Warn("MergedToStaging discarded: mismatch, duplicate, or already built")
		return nil, nil
	}

	running.MergeCommit = e.MergeCommit
	if err := store.PutRunning(ctx, pipeline, running); err != nil {
		return nil, err
	}
	return []Command{
		StartBuild{Pipeline: pipeline, Commit: e.MergeCommit},
		sendStatus(pipeline, running.Pr, Status{Kind: StatusStartingBuild, Pull: running.PullCommit, Merge: e.MergeCommit}),
	}, nil
}

// handleFailedMergeToStaging implements FailedMergeToStaging. Every branch
// here drops the running entry outright, including the
// mismatch/duplicate/already-built anomaly branch (as in
// handleMergedToStaging, whose success path alone puts it back): this is the
// documented, pinned behavior discussed in DESIGN.md's open-question log.
func handleFailedMergeToStaging(ctx context.Context, store Store, pipeline PipelineId, e FailedMergeToStaging, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("FailedMergeToStaging with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.PullCommit.Equal(e.PullCommit) || running.HasMergeCommit() || running.Built {
		log.Warn("FailedMergeToStaging discarded: mismatch, duplicate, or already built")
		return nil, nil
	}
	return []Command{sendStatus(pipeline, running.Pr, Status{Kind: StatusUnmergeable, Pull: e.PullCommit})}, nil
}

// handleBuildStarted never mutates the store: it is a pure notification that
// only fires when it matches the entry currently in flight.
func handleBuildStarted(ctx context.Context, store Store, pipeline PipelineId, e BuildStarted) ([]Command, error) {
	running, ok, err := store.PeekRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok || running.Canceled || running.Built || !running.HasMergeCommit() || !running.MergeCommit.Equal(e.BuiltCommit) {
		return nil, nil
	}
	return []Command{sendStatus(pipeline, running.Pr, Status{Kind: StatusTesting, Pull: running.PullCommit, Merge: running.MergeCommit, URL: e.URL})}, nil
}

func handleBuildFailed(ctx context.Context, store Store, pipeline PipelineId, e BuildFailed, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("BuildFailed with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.HasMergeCommit() || !running.MergeCommit.Equal(e.BuiltCommit) {
		log.Warn("BuildFailed commit mismatch")
		return nil, nil
	}
	if running.Built {
		log.Warn("BuildFailed for an already-built entry")
		return nil, store.PutRunning(ctx, pipeline, running)
	}
	return []Command{sendStatus(pipeline, running.Pr, Status{Kind: StatusFailure, Pull: running.PullCommit, Merge: running.MergeCommit, URL: e.URL})}, nil
}

func handleBuildSucceeded(ctx context.Context, store Store, pipeline PipelineId, e BuildSucceeded, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("BuildSucceeded with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.HasMergeCommit() || !running.MergeCommit.Equal(e.BuiltCommit) {
		log.Warn("BuildSucceeded commit mismatch")
		return nil, nil
	}
	if running.Built {
		log.Warn("BuildSucceeded for an already-built entry")
		return nil, store.PutRunning(ctx, pipeline, running)
	}

	running.Built = true
	if err := store.PutRunning(ctx, pipeline, running); err != nil {
		return nil, err
	}
	return []Command{
		MoveStagingToMaster{Pipeline: pipeline, Commit: running.MergeCommit},
		sendStatus(pipeline, running.Pr, Status{Kind: StatusSuccess, Pull: running.PullCommit, Merge: running.MergeCommit, URL: e.URL}),
	}, nil
}

func handleFailedMoveToMaster(ctx context.Context, store Store, pipeline PipelineId, e FailedMoveToMaster, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("FailedMoveToMaster with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.HasMergeCommit() || !running.MergeCommit.Equal(e.MergeCommit) {
		log.Warn("FailedMoveToMaster commit mismatch")
		return nil, nil
	}
	if !running.Built {
		log.Warn("FailedMoveToMaster for an entry that never finished building")
		return nil, nil
	}
	return []Command{sendStatus(pipeline, running.Pr, Status{Kind: StatusUnmoveable, Pull: running.PullCommit, Merge: running.MergeCommit})}, nil
}

func handleMovedToMaster(ctx context.Context, store Store, pipeline PipelineId, e MovedToMaster, log warner) ([]Command, error) {
	running, ok, err := store.TakeRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("MovedToMaster with no running entry")
		return nil, nil
	}
	if running.Canceled {
		return nil, nil
	}
	if !running.HasMergeCommit() || !running.MergeCommit.Equal(e.MergeCommit) {
		log.Warn("MovedToMaster commit mismatch")
		return nil, nil
	}
	if !running.Built {
		log.Warn("MovedToMaster for an entry that never finished building")
		return nil, nil
	}
	return []Command{sendStatus(pipeline, running.Pr, Status{Kind: StatusCompleted, Pull: running.PullCommit, Merge: running.MergeCommit})}, nil
}

// promote fills an empty running slot from the head of the queue, emitting
// the staging-merge command that starts the next candidate's journey. At
// most one entry is promoted per Handle call: once promoted, the running
// slot is occupied and a second promotion would violate I1.
func promote(ctx context.Context, store Store, pipeline PipelineId) ([]Command, error) {
	_, occupied, err := store.PeekRunning(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if occupied {
		return nil, nil
	}

	next, ok, err := store.PopQueue(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := store.PutRunning(ctx, pipeline, RunningEntry{
		Pr:         next.Pr,
		PullCommit: next.Commit,
		Message:    next.Message,
	}); err != nil {
		return nil, err
	}
	return []Command{MergeToStaging{
		Pipeline:   pipeline,
		PullCommit: next.Commit,
		Message:    next.Message,
		Remote:     next.Pr.Remote(),
	}}, nil
}

func sendStatus(pipeline PipelineId, pr Pr, status Status) Command {
	return SendStatus{Pipeline: pipeline, Pr: pr, Status: status}
}
