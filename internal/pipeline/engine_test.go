package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/storage/memory"
)

const pid = pipeline.PipelineId(1)

func newStore() pipeline.Store {
	return memory.New()
}

func TestApprovedWithCommitPromotesImmediately(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{
		PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1"), Message: "msg",
	})
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	merge, ok := cmds[0].(pipeline.MergeToStaging)
	require.True(t, ok)
	require.Equal(t, commit("c1"), merge.PullCommit)

	running, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pr("pr1"), running.Pr)
	require.False(t, running.HasMergeCommit())
}

func TestApprovedWithoutCommitResolvesFromPending(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Opened{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	merge := cmds[0].(pipeline.MergeToStaging)
	require.Equal(t, commit("c1"), merge.PullCommit)
}

func TestApprovedWithNoCommitAndNoPendingEmitsNoCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	status := cmds[0].(pipeline.SendStatus)
	require.Equal(t, pipeline.StatusNoCommit, status.Status.Kind)
}

func TestApprovedCommitMismatchAgainstPendingInvalidates(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Opened{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("stale")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, pipeline.StatusInvalidated, cmds[0].(pipeline.SendStatus).Status.Kind)
}

func TestSecondApprovalQueuesBehindFirst(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr2"), Commit: commit("c2")})
	require.NoError(t, err)
	require.Empty(t, cmds, "second PR should queue, not promote, while one is running")

	queue, err := store.ListQueue(ctx, pid)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, pr("pr2"), queue[0].Pr)
}

func TestChangedInvalidatesRunningDifferentCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.Changed{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c2")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, pipeline.StatusInvalidated, cmds[0].(pipeline.SendStatus).Status.Kind)

	running, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, running.Canceled)
}

func TestClosedCancelsRunningEntrySilently(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.Closed{PipelineID: pid, Pr: pr("pr1")})
	require.NoError(t, err)
	require.Empty(t, cmds)

	running, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, running.Canceled)
}

func TestFullHappyPathScenario(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	cmds, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1"), Message: "m"})
	require.NoError(t, err)
	merge := cmds[0].(pipeline.MergeToStaging)
	require.Equal(t, commit("c1"), merge.PullCommit)

	cmds, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	start := cmds[0].(pipeline.StartBuild)
	require.Equal(t, commit("m1"), start.Commit)
	require.Equal(t, pipeline.StatusStartingBuild, cmds[1].(pipeline.SendStatus).Status.Kind)

	cmds, err = pipeline.Handle(ctx, store, pipeline.BuildStarted{PipelineID: pid, BuiltCommit: commit("m1")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, pipeline.StatusTesting, cmds[0].(pipeline.SendStatus).Status.Kind)

	cmds, err = pipeline.Handle(ctx, store, pipeline.BuildSucceeded{PipelineID: pid, BuiltCommit: commit("m1")})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	move := cmds[0].(pipeline.MoveStagingToMaster)
	require.Equal(t, commit("m1"), move.Commit)
	require.Equal(t, pipeline.StatusSuccess, cmds[1].(pipeline.SendStatus).Status.Kind)

	cmds, err = pipeline.Handle(ctx, store, pipeline.MovedToMaster{PipelineID: pid, MergeCommit: commit("m1")})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, pipeline.StatusCompleted, cmds[0].(pipeline.SendStatus).Status.Kind)

	_, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.False(t, ok, "entry must be cleared once moved to master")
}

func TestFailedMergeToStagingEmitsUnmergeableAndPromotesNext(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr2"), Commit: commit("c2")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.FailedMergeToStaging{PipelineID: pid, PullCommit: commit("c1")})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, pipeline.StatusUnmergeable, cmds[0].(pipeline.SendStatus).Status.Kind)
	nextMerge := cmds[1].(pipeline.MergeToStaging)
	require.Equal(t, commit("c2"), nextMerge.PullCommit)
}

func TestDuplicateMergedToStagingDropsEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)
	require.Empty(t, cmds, "duplicate MergedToStaging is a warn+drop")

	_, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.False(t, ok, "duplicate/mismatched MergedToStaging takes the running entry and drops it, not restores it")
}

func TestBuildFailedDropsEntryAndPromotesNext(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr2"), Commit: commit("c2")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.BuildFailed{PipelineID: pid, BuiltCommit: commit("m1")})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, pipeline.StatusFailure, cmds[0].(pipeline.SendStatus).Status.Kind)
	nextMerge := cmds[1].(pipeline.MergeToStaging)
	require.Equal(t, commit("c2"), nextMerge.PullCommit)
}

func TestBuildFailedCommitMismatchDropsEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.BuildFailed{PipelineID: pid, BuiltCommit: commit("stale")})
	require.NoError(t, err)
	require.Empty(t, cmds, "a BuildFailed for a stale commit is a warn+drop, not a promotion")

	_, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.False(t, ok, "mismatched BuildFailed drops the running entry rather than restoring it")
}

func TestBuildFailedForAlreadyBuiltEntryRestoresIt(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.BuildSucceeded{PipelineID: pid, BuiltCommit: commit("m1")})
	require.NoError(t, err)

	running, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, running.Built)

	cmds, err := pipeline.Handle(ctx, store, pipeline.BuildFailed{PipelineID: pid, BuiltCommit: commit("m1")})
	require.NoError(t, err)
	require.Empty(t, cmds, "a BuildFailed for an already-built entry is a warn+no-op")

	_, ok, err = store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok, "the already-built duplicate case restores the entry unlike the mismatch case")
}

func TestBuildSucceededCommitMismatchDropsEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	_, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)

	cmds, err := pipeline.Handle(ctx, store, pipeline.BuildSucceeded{PipelineID: pid, BuiltCommit: commit("stale")})
	require.NoError(t, err)
	require.Empty(t, cmds, "a BuildSucceeded for a stale commit is a warn+drop, not a promotion")

	_, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.False(t, ok, "mismatched BuildSucceeded drops the running entry rather than restoring it")
}

func TestCanceledRunningEntrySuppressesFurtherStatus(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, pipeline.Approved{PipelineID: pid, Pr: pr("pr1"), Commit: commit("c1")})
	require.NoError(t, err)
	cmds, err := pipeline.Handle(ctx, store, pipeline.Canceled{PipelineID: pid, Pr: pr("pr1")})
	require.NoError(t, err)
	require.Empty(t, cmds)

	cmds, err = pipeline.Handle(ctx, store, pipeline.MergedToStaging{PipelineID: pid, PullCommit: commit("c1"), MergeCommit: commit("m1")})
	require.NoError(t, err)
	require.Empty(t, cmds, "canceled entries never emit status or commands again")

	_, ok, err := store.PeekRunning(ctx, pid)
	require.NoError(t, err)
	require.False(t, ok, "canceled entry is dropped on its next transition")
}

func TestHandleRejectsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, err := pipeline.Handle(ctx, store, unknownEvent{})
	require.Error(t, err)
}

type unknownEvent struct{}

func (unknownEvent) Pipeline() pipeline.PipelineId { return pid }
