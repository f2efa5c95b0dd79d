// Package postgres implements pipeline.Store on PostgreSQL via database/sql
// and lib/pq, grounded on internal/app/storage/postgres/store.go and
// store_admin.go in the teacher repo: raw database/sql (no sqlx), explicit
// parameterized queries, sql.ErrNoRows checks on single-row scans, and a
// compile-time interface assertion.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/storage"
)

// Store implements pipeline.Store backed by PostgreSQL.
type Store struct {
	db    *sql.DB
	codec storage.Codec
}

var _ pipeline.Store = (*Store)(nil)

// New creates a Store using db. A nil codec defaults to storage.IdentityCodec.
func New(db *sql.DB, codec storage.Codec) *Store {
	if codec == nil {
		codec = storage.IdentityCodec{}
	}
	return &Store{db: db, codec: codec}
}

func (s *Store) PushQueue(ctx context.Context, id pipeline.PipelineId, entry pipeline.QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_queue (pipeline_id, pr, remote, commit, message)
		VALUES ($1, $2, $3, $4, $5)
	`, int64(id), s.codec.EncodePr(entry.Pr), s.codec.EncodeRemote(entry.Pr.Remote()), s.codec.EncodeCommit(entry.Commit), entry.Message)
	if err != nil {
		return fmt.Errorf("postgres: push queue: %w", err)
	}
	return nil
}

func (s *Store) PopQueue(ctx context.Context, id pipeline.PipelineId) (pipeline.QueueEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.QueueEntry{}, false, fmt.Errorf("postgres: pop queue begin: %w", err)
	}
	defer tx.Rollback()

	var (
		rowID                     int64
		prEnc, remoteEnc, commit, message string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, pr, remote, commit, message
		FROM pipeline_queue
		WHERE pipeline_id = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, int64(id)).Scan(&rowID, &prEnc, &remoteEnc, &commit, &message)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.QueueEntry{}, false, nil
	}
	if err != nil {
		return pipeline.QueueEntry{}, false, fmt.Errorf("postgres: pop queue select: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_queue WHERE id = $1`, rowID); err != nil {
		return pipeline.QueueEntry{}, false, fmt.Errorf("postgres: pop queue delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return pipeline.QueueEntry{}, false, fmt.Errorf("postgres: pop queue commit: %w", err)
	}

	pr, err := s.codec.DecodePr(prEnc, remoteEnc)
	if err != nil {
		return pipeline.QueueEntry{}, false, err
	}
	commitVal, err := s.codec.DecodeCommit(commit)
	if err != nil {
		return pipeline.QueueEntry{}, false, err
	}
	return pipeline.QueueEntry{Pr: pr, Commit: commitVal, Message: message}, true, nil
}

func (s *Store) ListQueue(ctx context.Context, id pipeline.PipelineId) ([]pipeline.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pr, remote, commit, message
		FROM pipeline_queue
		WHERE pipeline_id = $1
		ORDER BY id
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: list queue: %w", err)
	}
	defer rows.Close()

	var out []pipeline.QueueEntry
	for rows.Next() {
		var prEnc, remoteEnc, commit, message string
		if err := rows.Scan(&prEnc, &remoteEnc, &commit, &message); err != nil {
			return nil, fmt.Errorf("postgres: list queue scan: %w", err)
		}
		pr, err := s.codec.DecodePr(prEnc, remoteEnc)
		if err != nil {
			return nil, err
		}
		commitVal, err := s.codec.DecodeCommit(commit)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.QueueEntry{Pr: pr, Commit: commitVal, Message: message})
	}
	return out, rows.Err()
}

func (s *Store) PutRunning(ctx context.Context, id pipeline.PipelineId, entry pipeline.RunningEntry) error {
	var mergeCommit interface{}
	if entry.MergeCommit != nil {
		mergeCommit = s.codec.EncodeCommit(entry.MergeCommit)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_running (pipeline_id, pr, remote, pull_commit, merge_commit, message, canceled, built, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (pipeline_id) DO UPDATE SET
			pr = excluded.pr,
			remote = excluded.remote,
			pull_commit = excluded.pull_commit,
			merge_commit = excluded.merge_commit,
			message = excluded.message,
			canceled = excluded.canceled,
			built = excluded.built,
			updated_at = now()
	`, int64(id), s.codec.EncodePr(entry.Pr), s.codec.EncodeRemote(entry.Pr.Remote()), s.codec.EncodeCommit(entry.PullCommit), mergeCommit, entry.Message, entry.Canceled, entry.Built)
	if err != nil {
		return fmt.Errorf("postgres: put running: %w", err)
	}
	return nil
}

func (s *Store) scanRunning(prEnc, remoteEnc, pullCommit string, mergeCommit sql.NullString, message string, canceled, built bool) (pipeline.RunningEntry, error) {
	pr, err := s.codec.DecodePr(prEnc, remoteEnc)
	if err != nil {
		return pipeline.RunningEntry{}, err
	}
	pull, err := s.codec.DecodeCommit(pullCommit)
	if err != nil {
		return pipeline.RunningEntry{}, err
	}
	var merge pipeline.Commit
	if mergeCommit.Valid {
		merge, err = s.codec.DecodeCommit(mergeCommit.String)
		if err != nil {
			return pipeline.RunningEntry{}, err
		}
	}
	return pipeline.RunningEntry{
		Pr:          pr,
		PullCommit:  pull,
		MergeCommit: merge,
		Message:     message,
		Canceled:    canceled,
		Built:       built,
	}, nil
}

func (s *Store) TakeRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("postgres: take running begin: %w", err)
	}
	defer tx.Rollback()

	var (
		prEnc, remoteEnc, pullCommit, message string
		mergeCommit                           sql.NullString
		canceled, built                       bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT pr, remote, pull_commit, merge_commit, message, canceled, built
		FROM pipeline_running
		WHERE pipeline_id = $1
		FOR UPDATE
	`, int64(id)).Scan(&prEnc, &remoteEnc, &pullCommit, &mergeCommit, &message, &canceled, &built)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.RunningEntry{}, false, nil
	}
	if err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("postgres: take running select: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_running WHERE pipeline_id = $1`, int64(id)); err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("postgres: take running delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("postgres: take running commit: %w", err)
	}

	entry, err := s.scanRunning(prEnc, remoteEnc, pullCommit, mergeCommit, message, canceled, built)
	return entry, true, err
}

func (s *Store) PeekRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	var (
		prEnc, remoteEnc, pullCommit, message string
		mergeCommit                           sql.NullString
		canceled, built                       bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT pr, remote, pull_commit, merge_commit, message, canceled, built
		FROM pipeline_running
		WHERE pipeline_id = $1
	`, int64(id)).Scan(&prEnc, &remoteEnc, &pullCommit, &mergeCommit, &message, &canceled, &built)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.RunningEntry{}, false, nil
	}
	if err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("postgres: peek running: %w", err)
	}
	entry, err := s.scanRunning(prEnc, remoteEnc, pullCommit, mergeCommit, message, canceled, built)
	return entry, true, err
}

func (s *Store) AddPending(ctx context.Context, id pipeline.PipelineId, entry pipeline.PendingEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_pending (pipeline_id, pr, remote, commit, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pipeline_id, pr) DO UPDATE SET
			remote = excluded.remote,
			commit = excluded.commit,
			updated_at = now()
	`, int64(id), s.codec.EncodePr(entry.Pr), s.codec.EncodeRemote(entry.Pr.Remote()), s.codec.EncodeCommit(entry.Commit))
	if err != nil {
		return fmt.Errorf("postgres: add pending: %w", err)
	}
	return nil
}

func (s *Store) PeekPendingByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	var remoteEnc, commit string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote, commit FROM pipeline_pending WHERE pipeline_id = $1 AND pr = $2
	`, int64(id), s.codec.EncodePr(pr)).Scan(&remoteEnc, &commit)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.PendingEntry{}, false, nil
	}
	if err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("postgres: peek pending: %w", err)
	}
	_ = remoteEnc // the caller already supplies pr with its own remote; persisted remote is informational
	commitVal, err := s.codec.DecodeCommit(commit)
	if err != nil {
		return pipeline.PendingEntry{}, false, err
	}
	return pipeline.PendingEntry{Pr: pr, Commit: commitVal}, true, nil
}

func (s *Store) TakePendingByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("postgres: take pending begin: %w", err)
	}
	defer tx.Rollback()

	var remoteEnc, commit string
	err = tx.QueryRowContext(ctx, `
		SELECT remote, commit FROM pipeline_pending WHERE pipeline_id = $1 AND pr = $2 FOR UPDATE
	`, int64(id), s.codec.EncodePr(pr)).Scan(&remoteEnc, &commit)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.PendingEntry{}, false, nil
	}
	if err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("postgres: take pending select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_pending WHERE pipeline_id = $1 AND pr = $2`, int64(id), s.codec.EncodePr(pr)); err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("postgres: take pending delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("postgres: take pending commit: %w", err)
	}

	_ = remoteEnc // the caller already supplies pr with its own remote; persisted remote is informational
	commitVal, err := s.codec.DecodeCommit(commit)
	if err != nil {
		return pipeline.PendingEntry{}, false, err
	}
	decodedPr := pr
	return pipeline.PendingEntry{Pr: decodedPr, Commit: commitVal}, true, nil
}

func (s *Store) ListPending(ctx context.Context, id pipeline.PipelineId) ([]pipeline.PendingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pr, remote, commit FROM pipeline_pending WHERE pipeline_id = $1
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending: %w", err)
	}
	defer rows.Close()

	var out []pipeline.PendingEntry
	for rows.Next() {
		var prEnc, remoteEnc, commit string
		if err := rows.Scan(&prEnc, &remoteEnc, &commit); err != nil {
			return nil, fmt.Errorf("postgres: list pending scan: %w", err)
		}
		pr, err := s.codec.DecodePr(prEnc, remoteEnc)
		if err != nil {
			return nil, err
		}
		commitVal, err := s.codec.DecodeCommit(commit)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.PendingEntry{Pr: pr, Commit: commitVal})
	}
	return out, rows.Err()
}

func (s *Store) CancelByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: cancel begin: %w", err)
	}
	defer tx.Rollback()

	prEnc := s.codec.EncodePr(pr)
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_queue WHERE pipeline_id = $1 AND pr = $2`, int64(id), prEnc); err != nil {
		return fmt.Errorf("postgres: cancel queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pipeline_running SET canceled = true, updated_at = now()
		WHERE pipeline_id = $1 AND pr = $2
	`, int64(id), prEnc); err != nil {
		return fmt.Errorf("postgres: cancel running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: cancel commit: %w", err)
	}
	return nil
}

func (s *Store) CancelByPrDifferentCommit(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr, commit pipeline.Commit) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel-diff begin: %w", err)
	}
	defer tx.Rollback()

	prEnc := s.codec.EncodePr(pr)
	commitEnc := s.codec.EncodeCommit(commit)
	var changed bool

	queueResult, err := tx.ExecContext(ctx, `
		DELETE FROM pipeline_queue WHERE pipeline_id = $1 AND pr = $2 AND commit <> $3
	`, int64(id), prEnc, commitEnc)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel-diff queue: %w", err)
	}
	if rows, _ := queueResult.RowsAffected(); rows > 0 {
		changed = true
	}

	runResult, err := tx.ExecContext(ctx, `
		UPDATE pipeline_running SET canceled = true, updated_at = now()
		WHERE pipeline_id = $1 AND pr = $2 AND pull_commit <> $3
	`, int64(id), prEnc, commitEnc)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel-diff running: %w", err)
	}
	if rows, _ := runResult.RowsAffected(); rows > 0 {
		changed = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("postgres: cancel-diff commit: %w", err)
	}
	return changed, nil
}
