package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/storage/postgres"
	"github.com/r3e-network/mergequeue/internal/storage/postgres/migrations"
)

// newTestStore skips unless TEST_POSTGRES_DSN is set, matching the teacher's
// internal/app/storage/postgres/store_test.go harness.
func newTestStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, migrations.Apply(ctx, db))

	resetTables(t, db)
	t.Cleanup(func() { resetTables(t, db) })

	return postgres.New(db, nil), ctx
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE pipeline_queue, pipeline_running, pipeline_pending RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestStoreIntegrationQueueAndRunningLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)
	const id = pipeline.PipelineId(99)

	require.NoError(t, store.PushQueue(ctx, id, pipeline.QueueEntry{Pr: fakePr("pr1"), Commit: fakeCommit("c1"), Message: "m1"}))
	require.NoError(t, store.PushQueue(ctx, id, pipeline.QueueEntry{Pr: fakePr("pr2"), Commit: fakeCommit("c2"), Message: "m2"}))

	first, ok, err := store.PopQueue(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pr1", first.Pr.String())

	require.NoError(t, store.PutRunning(ctx, id, pipeline.RunningEntry{Pr: first.Pr, PullCommit: first.Commit}))

	running, ok, err := store.PeekRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", running.PullCommit.String())

	changed, err := store.CancelByPrDifferentCommit(ctx, id, fakePr("pr1"), fakeCommit("other"))
	require.NoError(t, err)
	require.True(t, changed)

	running, ok, err = store.PeekRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, running.Canceled)
}

func TestStoreIntegrationPendingLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)
	const id = pipeline.PipelineId(100)

	require.NoError(t, store.AddPending(ctx, id, pipeline.PendingEntry{Pr: fakePr("pr1"), Commit: fakeCommit("c1")}))

	peeked, ok, err := store.PeekPendingByPr(ctx, id, fakePr("pr1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", peeked.Commit.String())

	taken, ok, err := store.TakePendingByPr(ctx, id, fakePr("pr1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", taken.Commit.String())

	_, ok, err = store.PeekPendingByPr(ctx, id, fakePr("pr1"))
	require.NoError(t, err)
	require.False(t, ok)
}
