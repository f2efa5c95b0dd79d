// Package memory is a thread-safe, process-local implementation of
// pipeline.Store. It backs unit tests and the default single-process
// deployment mode; it is intentionally simple and keeps no data beyond
// process lifetime.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/r3e-network/mergequeue/internal/pipeline"
)

type pipelineState struct {
	queue   *list.List // of pipeline.QueueEntry
	running *pipeline.RunningEntry
	pending map[string]pipeline.PendingEntry // keyed by Pr.String()
}

func newPipelineState() *pipelineState {
	return &pipelineState{
		queue:   list.New(),
		pending: make(map[string]pipeline.PendingEntry),
	}
}

// Store is an in-memory pipeline.Store, safe for concurrent use across
// pipelines. A single mutex guards all state; contention is not a concern
// since the dispatcher already serializes access per pipeline.
type Store struct {
	mu        sync.Mutex
	pipelines map[pipeline.PipelineId]*pipelineState
}

// New creates an empty Store.
func New() *Store {
	return &Store{pipelines: make(map[pipeline.PipelineId]*pipelineState)}
}

var _ pipeline.Store = (*Store)(nil)

func (s *Store) state(id pipeline.PipelineId) *pipelineState {
	st, ok := s.pipelines[id]
	if !ok {
		st = newPipelineState()
		s.pipelines[id] = st
	}
	return st
}

func (s *Store) PushQueue(_ context.Context, id pipeline.PipelineId, entry pipeline.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(id).queue.PushBack(entry)
	return nil
}

func (s *Store) PopQueue(_ context.Context, id pipeline.PipelineId) (pipeline.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	front := st.queue.Front()
	if front == nil {
		return pipeline.QueueEntry{}, false, nil
	}
	st.queue.Remove(front)
	return front.Value.(pipeline.QueueEntry), true, nil
}

func (s *Store) ListQueue(_ context.Context, id pipeline.PipelineId) ([]pipeline.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	out := make([]pipeline.QueueEntry, 0, st.queue.Len())
	for e := st.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(pipeline.QueueEntry))
	}
	return out, nil
}

func (s *Store) PutRunning(_ context.Context, id pipeline.PipelineId, entry pipeline.RunningEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry
	s.state(id).running = &e
	return nil
}

func (s *Store) TakeRunning(_ context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	if st.running == nil {
		return pipeline.RunningEntry{}, false, nil
	}
	entry := *st.running
	st.running = nil
	return entry, true, nil
}

func (s *Store) PeekRunning(_ context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	if st.running == nil {
		return pipeline.RunningEntry{}, false, nil
	}
	return *st.running, true, nil
}

func (s *Store) AddPending(_ context.Context, id pipeline.PipelineId, entry pipeline.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(id).pending[entry.Pr.String()] = entry
	return nil
}

func (s *Store) PeekPendingByPr(_ context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state(id).pending[pr.String()]
	return entry, ok, nil
}

func (s *Store) TakePendingByPr(_ context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	entry, ok := st.pending[pr.String()]
	if ok {
		delete(st.pending, pr.String())
	}
	return entry, ok, nil
}

func (s *Store) ListPending(_ context.Context, id pipeline.PipelineId) ([]pipeline.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	out := make([]pipeline.PendingEntry, 0, len(st.pending))
	for _, entry := range st.pending {
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CancelByPr(_ context.Context, id pipeline.PipelineId, pr pipeline.Pr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)

	var kept []*list.Element
	for e := st.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(pipeline.QueueEntry).Pr.String() == pr.String() {
			kept = append(kept, e)
		}
	}
	for _, e := range kept {
		st.queue.Remove(e)
	}

	if st.running != nil && st.running.Pr.String() == pr.String() {
		st.running.Canceled = true
	}
	return nil
}

func (s *Store) CancelByPrDifferentCommit(_ context.Context, id pipeline.PipelineId, pr pipeline.Pr, commit pipeline.Commit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	var changed bool

	var toRemove []*list.Element
	for e := st.queue.Front(); e != nil; e = e.Next() {
		qe := e.Value.(pipeline.QueueEntry)
		if qe.Pr.String() == pr.String() && !qe.Commit.Equal(commit) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		st.queue.Remove(e)
		changed = true
	}

	if st.running != nil && st.running.Pr.String() == pr.String() && !st.running.PullCommit.Equal(commit) {
		st.running.Canceled = true
		changed = true
	}
	return changed, nil
}
