package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/pipeline"
)

// WebhookMapping names where in a provider's PR-event webhook payload the
// fields a pipeline.Approved/Opened/Changed/Closed event needs live.
// Mirrors the shape of ci.FieldMapping: flat gjson paths for the common
// case, full jsonpath expressions when a provider nests fields deeper.
type WebhookMapping struct {
	ActionPath string // e.g. "action": opened | synchronize | closed | labeled

	OwnerPath  string
	RepoPath   string
	NumberPath string
	CommitPath string
	TitlePath  string

	// ApprovalLabel is the label name that, when present on a "labeled"
	// action, means the PR has been approved for the merge queue. Left
	// empty disables label-driven approval (the caller decides Approved
	// some other way, e.g. a dedicated /approve endpoint).
	ApprovalLabel string
	LabelsPathExpr string // JSONPath to the array of label name strings
}

// Webhook decodes provider PR-event payloads into pipeline.Event values
// using mapping, and a message renderer for the Approved event's message
// field.
type Webhook struct {
	mapping  WebhookMapping
	remote   pipeline.Remote
	pipeline pipeline.PipelineId
	message  func(owner, repo string, number int, commit, title string) string
}

// NewWebhook builds a Webhook bound to one pipeline/remote pair (a
// deployment with several pipelines registers one Webhook per pipeline,
// typically behind distinct URL paths).
func NewWebhook(id pipeline.PipelineId, remote pipeline.Remote, mapping WebhookMapping, message func(owner, repo string, number int, commit, title string) string) *Webhook {
	if message == nil {
		message = func(owner, repo string, number int, commit, title string) string {
			return fmt.Sprintf("Merge #%d: %s", number, title)
		}
	}
	return &Webhook{mapping: mapping, remote: remote, pipeline: id, message: message}
}

// Decode maps body to a pipeline.Event. Returns (nil, nil) when the
// payload's action doesn't correspond to any event this system tracks
// (e.g. a comment-added webhook).
func (w *Webhook) Decode(body []byte) (pipeline.Event, error) {
	action := gjson.GetBytes(body, w.mapping.ActionPath).String()

	owner := w.field(body, w.mapping.OwnerPath, "")
	repo := w.field(body, w.mapping.RepoPath, "")
	numberStr := w.field(body, w.mapping.NumberPath, "")
	if owner == "" || repo == "" || numberStr == "" {
		return nil, fmt.Errorf("webhook payload missing owner/repo/number")
	}
	var number int
	if _, err := fmt.Sscanf(numberStr, "%d", &number); err != nil {
		return nil, fmt.Errorf("invalid PR number %q: %w", numberStr, err)
	}
	pr := identity.NewPr(owner, repo, number, identity.Remote(w.remote.String()))

	commitStr := w.field(body, w.mapping.CommitPath, "")
	commit := identity.Commit(commitStr)

	switch action {
	case "opened", "reopened":
		return pipeline.Opened{PipelineID: w.pipeline, Pr: pr, Commit: commit}, nil
	case "synchronize":
		return pipeline.Changed{PipelineID: w.pipeline, Pr: pr, Commit: commit}, nil
	case "closed":
		return pipeline.Closed{PipelineID: w.pipeline, Pr: pr}, nil
	case "labeled":
		if w.mapping.ApprovalLabel == "" {
			return nil, nil
		}
		if !w.hasLabel(body) {
			return nil, nil
		}
		title := w.field(body, w.mapping.TitlePath, "")
		return pipeline.Approved{
			PipelineID: w.pipeline,
			Pr:         pr,
			Commit:     commit,
			Message:    w.message(owner, repo, number, commitStr, title),
		}, nil
	default:
		return nil, nil
	}
}

func (w *Webhook) hasLabel(body []byte) bool {
	if w.mapping.LabelsPathExpr == "" {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	value, err := jsonpath.Get(w.mapping.LabelsPathExpr, doc)
	if err != nil {
		return false
	}
	labels, ok := value.([]interface{})
	if !ok {
		return false
	}
	for _, l := range labels {
		if s, ok := l.(string); ok && s == w.mapping.ApprovalLabel {
			return true
		}
	}
	return false
}

func (w *Webhook) field(body []byte, gjsonPath, fallback string) string {
	if gjsonPath == "" {
		return fallback
	}
	result := gjson.GetBytes(body, gjsonPath)
	if !result.Exists() {
		return fallback
	}
	return result.String()
}

// HandleFunc returns an http.HandlerFunc that decodes the request body and
// dispatches the resulting event through sink, for mounting at a
// provider-specific webhook path.
func (w *Webhook) HandleFunc(sink EventSink) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}

		event, err := w.Decode(body)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		if event == nil {
			rw.WriteHeader(http.StatusNoContent)
			return
		}

		if err := sink.Dispatch(r.Context(), event); err != nil {
			http.Error(rw, "dispatch failed", http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusAccepted)
	}
}
