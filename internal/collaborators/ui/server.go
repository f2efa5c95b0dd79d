package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/r3e-network/mergequeue/internal/apierrors"
	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

// EventSink is how the server hands a decoded webhook event to the rest of
// the system (normally internal/dispatcher.Dispatcher.Dispatch).
type EventSink interface {
	Dispatch(ctx context.Context, event pipeline.Event) error
}

// Reader is the read-only subset of pipeline.Store the GET /pipelines/{id}
// endpoint needs.
type Reader interface {
	ListQueue(ctx context.Context, id pipeline.PipelineId) ([]pipeline.QueueEntry, error)
	PeekRunning(ctx context.Context, id pipeline.PipelineId) (pipeline.RunningEntry, bool, error)
	ListPending(ctx context.Context, id pipeline.PipelineId) ([]pipeline.PendingEntry, error)
}

// Server is the UI collaborator binding's HTTP surface: a webhook receiver
// feeding pipeline.Event values to an EventSink, a WebSocket endpoint for
// dashboards, and an admin surface gated by AdminAuth.
type Server struct {
	hub      *Hub
	sink     EventSink
	store    Reader
	auth     *AdminAuth
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewServer builds a Server. auth may be nil to disable the admin cancel
// endpoint entirely (it responds 404 rather than silently accepting
// unauthenticated cancellations).
func NewServer(hub *Hub, sink EventSink, store Reader, auth *AdminAuth, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewFromEnv("ui")
	}
	return &Server{
		hub:   hub,
		sink:  sink,
		store: store,
		auth:  auth,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gorilla/mux router for this server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/pipelines/{id:[0-9]+}", s.handleGetPipeline).Methods(http.MethodGet)

	if s.auth != nil {
		r.Handle("/pipelines/{id:[0-9]+}/cancel", s.auth.Middleware(http.HandlerFunc(s.handleCancel))).Methods(http.MethodPost)
	}

	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithFields(nil).WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.hub.Register(conn)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pipelineIDFromPath(r)
	if err != nil {
		writeError(w, apierrors.InvalidInput("id", err.Error()))
		return
	}

	ctx := r.Context()
	queue, err := s.store.ListQueue(ctx, id)
	if err != nil {
		writeError(w, apierrors.StorageError(err))
		return
	}
	running, occupied, err := s.store.PeekRunning(ctx, id)
	if err != nil {
		writeError(w, apierrors.StorageError(err))
		return
	}
	pending, err := s.store.ListPending(ctx, id)
	if err != nil {
		writeError(w, apierrors.StorageError(err))
		return
	}

	snapshot := map[string]interface{}{
		"pipeline":          int64(id),
		"queue_depth":       len(queue),
		"running_occupied":  occupied,
		"pending_count":     len(pending),
	}
	if occupied {
		snapshot["running"] = map[string]interface{}{
			"pr":           running.Pr.String(),
			"pull_commit":  running.PullCommit.String(),
			"canceled":     running.Canceled,
			"built":        running.Built,
			"has_merge":    running.HasMergeCommit(),
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// cancelRequest names the PR whose running/queued work should be canceled.
// The actual Pr/Commit construction happens in the caller's identity
// package; the server only carries the event through as an
// already-constructed pipeline.Canceled, built by the cmd/mergequeue wiring
// layer from this request's owner/repo/number before dispatch.
type cancelRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// CancelEventBuilder constructs a pipeline.Canceled event for the named PR;
// supplied by cmd/mergequeue since only it knows the concrete identity.Pr
// construction and the pipeline's configured remote.
type CancelEventBuilder func(id pipeline.PipelineId, owner, repo string, number int) (pipeline.Canceled, error)

// BuildCancelEvent is set by cmd/mergequeue at startup.
var BuildCancelEvent CancelEventBuilder

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pipelineIDFromPath(r)
	if err != nil {
		writeError(w, apierrors.InvalidInput("id", err.Error()))
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if BuildCancelEvent == nil {
		writeError(w, apierrors.New(apierrors.ErrCodeInternal, "cancel event builder not configured", http.StatusInternalServerError))
		return
	}
	event, err := BuildCancelEvent(id, req.Owner, req.Repo, req.Number)
	if err != nil {
		writeError(w, apierrors.InvalidInput("pr", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.sink.Dispatch(ctx, event); err != nil {
		writeError(w, apierrors.Wrap(apierrors.ErrCodeInternal, "dispatch failed", http.StatusInternalServerError, err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func pipelineIDFromPath(r *http.Request) (pipeline.PipelineId, error) {
	raw := mux.Vars(r)["id"]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return pipeline.PipelineId(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, svcErr *apierrors.ServiceError) {
	writeJSON(w, svcErr.HTTPStatus, svcErr)
}
