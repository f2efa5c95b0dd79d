// Package redisstore implements pipeline.Store on Redis via go-redis/redis/v8.
// go-redis is declared in the teacher's go.mod but never wired to an actual
// call site there; this backend gives it one. Queue entries live in a Redis
// list, the running slot in a string key and pending entries in a hash.
// Cancel, cancel-different-commit and take-pending each run as a single Lua
// EVAL and take-running as one GETDEL, so each is atomic with respect to
// concurrent clients, the same guarantee the Postgres backend gets from its
// transactions.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/storage"
)

// Store implements pipeline.Store backed by Redis.
type Store struct {
	rdb   *redis.Client
	codec storage.Codec
}

var _ pipeline.Store = (*Store)(nil)

// New creates a Store using rdb. A nil codec defaults to storage.IdentityCodec.
func New(rdb *redis.Client, codec storage.Codec) *Store {
	if codec == nil {
		codec = storage.IdentityCodec{}
	}
	return &Store{rdb: rdb, codec: codec}
}

func queueKey(id pipeline.PipelineId) string   { return fmt.Sprintf("mergequeue:{%d}:queue", id) }
func runningKey(id pipeline.PipelineId) string { return fmt.Sprintf("mergequeue:{%d}:running", id) }
func pendingKey(id pipeline.PipelineId) string { return fmt.Sprintf("mergequeue:{%d}:pending", id) }

// wireQueueEntry/wireRunningEntry/wirePendingEntry are the JSON wire shapes
// stored in Redis; they hold codec-encoded strings, never the opaque
// pipeline.Pr/Commit interfaces directly.
type wireQueueEntry struct {
	Pr      string `json:"pr"`
	Remote  string `json:"remote"`
	Commit  string `json:"commit"`
	Message string `json:"message"`
}

type wireRunningEntry struct {
	Pr          string `json:"pr"`
	Remote      string `json:"remote"`
	PullCommit  string `json:"pull_commit"`
	MergeCommit string `json:"merge_commit,omitempty"`
	Message     string `json:"message"`
	Canceled    bool   `json:"canceled"`
	Built       bool   `json:"built"`
}

type wirePendingEntry struct {
	Remote string `json:"remote"`
	Commit string `json:"commit"`
}

func (s *Store) encodeQueueEntry(entry pipeline.QueueEntry) ([]byte, error) {
	return json.Marshal(wireQueueEntry{
		Pr:      s.codec.EncodePr(entry.Pr),
		Remote:  s.codec.EncodeRemote(entry.Pr.Remote()),
		Commit:  s.codec.EncodeCommit(entry.Commit),
		Message: entry.Message,
	})
}

func (s *Store) decodeQueueEntry(raw string) (pipeline.QueueEntry, error) {
	var w wireQueueEntry
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return pipeline.QueueEntry{}, fmt.Errorf("redisstore: decode queue entry: %w", err)
	}
	pr, err := s.codec.DecodePr(w.Pr, w.Remote)
	if err != nil {
		return pipeline.QueueEntry{}, err
	}
	commit, err := s.codec.DecodeCommit(w.Commit)
	if err != nil {
		return pipeline.QueueEntry{}, err
	}
	return pipeline.QueueEntry{Pr: pr, Commit: commit, Message: w.Message}, nil
}

func (s *Store) encodeRunningEntry(entry pipeline.RunningEntry) ([]byte, error) {
	w := wireRunningEntry{
		Pr:         s.codec.EncodePr(entry.Pr),
		Remote:     s.codec.EncodeRemote(entry.Pr.Remote()),
		PullCommit: s.codec.EncodeCommit(entry.PullCommit),
		Message:    entry.Message,
		Canceled:   entry.Canceled,
		Built:      entry.Built,
	}
	if entry.MergeCommit != nil {
		w.MergeCommit = s.codec.EncodeCommit(entry.MergeCommit)
	}
	return json.Marshal(w)
}

func (s *Store) decodeRunningEntry(raw string) (pipeline.RunningEntry, error) {
	var w wireRunningEntry
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return pipeline.RunningEntry{}, fmt.Errorf("redisstore: decode running entry: %w", err)
	}
	pr, err := s.codec.DecodePr(w.Pr, w.Remote)
	if err != nil {
		return pipeline.RunningEntry{}, err
	}
	pull, err := s.codec.DecodeCommit(w.PullCommit)
	if err != nil {
		return pipeline.RunningEntry{}, err
	}
	var merge pipeline.Commit
	if w.MergeCommit != "" {
		merge, err = s.codec.DecodeCommit(w.MergeCommit)
		if err != nil {
			return pipeline.RunningEntry{}, err
		}
	}
	return pipeline.RunningEntry{
		Pr:          pr,
		PullCommit:  pull,
		MergeCommit: merge,
		Message:     w.Message,
		Canceled:    w.Canceled,
		Built:       w.Built,
	}, nil
}

func (s *Store) PushQueue(ctx context.Context, id pipeline.PipelineId, entry pipeline.QueueEntry) error {
	raw, err := s.encodeQueueEntry(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, queueKey(id), raw).Err(); err != nil {
		return fmt.Errorf("redisstore: push queue: %w", err)
	}
	return nil
}

func (s *Store) PopQueue(ctx context.Context, id pipeline.PipelineId) (pipeline.QueueEntry, bool, error) {
	raw, err := s.rdb.LPop(ctx, queueKey(id)).Result()
	if err == redis.Nil {
		return pipeline.QueueEntry{}, false, nil
	}
	if err != nil {
		return pipeline.QueueEntry{}, false, fmt.Errorf("redisstore: pop queue: %w", err)
	}
	entry, err := s.decodeQueueEntry(raw)
	return entry, true, err
}

func (s *Store) ListQueue(ctx context.Context, id pipeline.PipelineId) ([]pipeline.QueueEntry, error) {
	items, err := s.rdb.LRange(ctx, queueKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list queue: %w", err)
	}
	out := make([]pipeline.QueueEntry, 0, len(items))
	for _, raw := range items {
		entry, err := s.decodeQueueEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) PutRunning(ctx context.Context, id pipeline.PipelineId, entry pipeline.RunningEntry) error {
	raw, err := s.encodeRunningEntry(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, runningKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: put running: %w", err)
	}
	return nil
}

func (s *Store) TakeRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	raw, err := s.rdb.GetDel(ctx, runningKey(id)).Result()
	if err == redis.Nil {
		return pipeline.RunningEntry{}, false, nil
	}
	if err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("redisstore: take running: %w", err)
	}
	entry, err := s.decodeRunningEntry(raw)
	return entry, true, err
}

func (s *Store) PeekRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error) {
	raw, err := s.rdb.Get(ctx, runningKey(id)).Result()
	if err == redis.Nil {
		return pipeline.RunningEntry{}, false, nil
	}
	if err != nil {
		return pipeline.RunningEntry{}, false, fmt.Errorf("redisstore: peek running: %w", err)
	}
	entry, err := s.decodeRunningEntry(raw)
	return entry, true, err
}

func (s *Store) AddPending(ctx context.Context, id pipeline.PipelineId, entry pipeline.PendingEntry) error {
	raw, err := json.Marshal(wirePendingEntry{
		Remote: s.codec.EncodeRemote(entry.Pr.Remote()),
		Commit: s.codec.EncodeCommit(entry.Commit),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encode pending: %w", err)
	}
	if err := s.rdb.HSet(ctx, pendingKey(id), s.codec.EncodePr(entry.Pr), raw).Err(); err != nil {
		return fmt.Errorf("redisstore: add pending: %w", err)
	}
	return nil
}

func (s *Store) decodePending(prEnc, raw string) (pipeline.PendingEntry, error) {
	var w wirePendingEntry
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return pipeline.PendingEntry{}, fmt.Errorf("redisstore: decode pending: %w", err)
	}
	pr, err := s.codec.DecodePr(prEnc, w.Remote)
	if err != nil {
		return pipeline.PendingEntry{}, err
	}
	commit, err := s.codec.DecodeCommit(w.Commit)
	if err != nil {
		return pipeline.PendingEntry{}, err
	}
	return pipeline.PendingEntry{Pr: pr, Commit: commit}, nil
}

func (s *Store) PeekPendingByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	prEnc := s.codec.EncodePr(pr)
	raw, err := s.rdb.HGet(ctx, pendingKey(id), prEnc).Result()
	if err == redis.Nil {
		return pipeline.PendingEntry{}, false, nil
	}
	if err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("redisstore: peek pending: %w", err)
	}
	entry, err := s.decodePending(prEnc, raw)
	return entry, true, err
}

var takePendingScript = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if raw then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return raw
`)

func (s *Store) TakePendingByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) (pipeline.PendingEntry, bool, error) {
	prEnc := s.codec.EncodePr(pr)
	res, err := takePendingScript.Run(ctx, s.rdb, []string{pendingKey(id)}, prEnc).Result()
	if err == redis.Nil {
		return pipeline.PendingEntry{}, false, nil
	}
	if err != nil {
		return pipeline.PendingEntry{}, false, fmt.Errorf("redisstore: take pending: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return pipeline.PendingEntry{}, false, nil
	}
	entry, err := s.decodePending(prEnc, raw)
	return entry, true, err
}

func (s *Store) ListPending(ctx context.Context, id pipeline.PipelineId) ([]pipeline.PendingEntry, error) {
	all, err := s.rdb.HGetAll(ctx, pendingKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list pending: %w", err)
	}
	out := make([]pipeline.PendingEntry, 0, len(all))
	for prEnc, raw := range all {
		entry, err := s.decodePending(prEnc, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// cancelScript removes every queue entry whose "pr" field matches ARGV[1]
// and, if the running entry belongs to that pr, marks it canceled. Runs as a
// single EVAL so the read-filter-rewrite sequence over the list is atomic.
var cancelScript = redis.NewScript(`
local queueKey = KEYS[1]
local runningKey = KEYS[2]
local pr = ARGV[1]

local items = redis.call("LRANGE", queueKey, 0, -1)
redis.call("DEL", queueKey)
for _, raw in ipairs(items) do
	local decoded = cjson.decode(raw)
	if decoded.pr ~= pr then
		redis.call("RPUSH", queueKey, raw)
	end
end

local running = redis.call("GET", runningKey)
if running then
	local decoded = cjson.decode(running)
	if decoded.pr == pr then
		decoded.canceled = true
		redis.call("SET", runningKey, cjson.encode(decoded))
	end
end
return 1
`)

func (s *Store) CancelByPr(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr) error {
	if err := cancelScript.Run(ctx, s.rdb, []string{queueKey(id), runningKey(id)}, s.codec.EncodePr(pr)).Err(); err != nil {
		return fmt.Errorf("redisstore: cancel: %w", err)
	}
	return nil
}

// cancelDifferentCommitScript mirrors cancelScript but only cancels entries
// whose commit differs from ARGV[2], and reports whether anything changed.
var cancelDifferentCommitScript = redis.NewScript(`
local queueKey = KEYS[1]
local runningKey = KEYS[2]
local pr = ARGV[1]
local commit = ARGV[2]
local changed = 0

local items = redis.call("LRANGE", queueKey, 0, -1)
redis.call("DEL", queueKey)
for _, raw in ipairs(items) do
	local decoded = cjson.decode(raw)
	if decoded.pr == pr and decoded.commit ~= commit then
		changed = 1
	else
		redis.call("RPUSH", queueKey, raw)
	end
end

local running = redis.call("GET", runningKey)
if running then
	local decoded = cjson.decode(running)
	if decoded.pr == pr and decoded.pull_commit ~= commit then
		decoded.canceled = true
		redis.call("SET", runningKey, cjson.encode(decoded))
		changed = 1
	end
end
return changed
`)

func (s *Store) CancelByPrDifferentCommit(ctx context.Context, id pipeline.PipelineId, pr pipeline.Pr, commit pipeline.Commit) (bool, error) {
	res, err := cancelDifferentCommitScript.Run(ctx, s.rdb, []string{queueKey(id), runningKey(id)}, s.codec.EncodePr(pr), s.codec.EncodeCommit(commit)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: cancel-different-commit: %w", err)
	}
	changed, _ := res.(int64)
	return changed == 1, nil
}
