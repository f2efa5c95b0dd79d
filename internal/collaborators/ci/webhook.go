package ci

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/pipeline"
)

// FieldMapping names, per provider, where in a webhook payload the three
// values a build-status event needs live. Most providers expose these as
// flat top-level fields reachable with gjson; PathExpr exists for the rarer
// provider whose payload nests status under a conditional/array shape that
// needs a real JSONPath evaluation.
type FieldMapping struct {
	// CommitPath/StatusPath/URLPath are gjson paths (e.g. "head_commit.id").
	// Used when PathExpr fields are empty.
	CommitPath string
	StatusPath string
	URLPath    string

	// CommitPathExpr/StatusPathExpr/URLPathExpr are full JSONPath
	// expressions (e.g. "$.build.commit.sha"), evaluated with
	// PaesslerAG/jsonpath when a flat gjson path can't express the shape.
	CommitPathExpr string
	StatusPathExpr string
	URLPathExpr    string

	// SuccessValues/FailureValues list the raw status strings this
	// provider uses for "succeeded"/"failed", e.g. {"success"} / {"failure",
	// "error"}. Anything else maps to a started/unknown transition.
	SuccessValues []string
	FailureValues []string
}

// BuildStatus is the provider-agnostic result of decoding a webhook body.
type BuildStatus struct {
	Commit pipeline.Commit
	URL    string
	Kind   BuildStatusKind
}

// BuildStatusKind enumerates the build lifecycle transitions a CI webhook
// can report.
type BuildStatusKind string

const (
	BuildStarted   BuildStatusKind = "started"
	BuildSucceeded BuildStatusKind = "succeeded"
	BuildFailed    BuildStatusKind = "failed"
)

// Decode maps a raw webhook body to a BuildStatus using mapping. It tries
// the jsonpath expression for each field first (when configured), falling
// back to the flat gjson path.
func Decode(body []byte, mapping FieldMapping) (BuildStatus, error) {
	commit, err := extract(body, mapping.CommitPathExpr, mapping.CommitPath)
	if err != nil {
		return BuildStatus{}, fmt.Errorf("extract commit: %w", err)
	}
	if commit == "" {
		return BuildStatus{}, fmt.Errorf("webhook payload missing commit field")
	}

	status, err := extract(body, mapping.StatusPathExpr, mapping.StatusPath)
	if err != nil {
		return BuildStatus{}, fmt.Errorf("extract status: %w", err)
	}

	url, err := extract(body, mapping.URLPathExpr, mapping.URLPath)
	if err != nil {
		return BuildStatus{}, fmt.Errorf("extract url: %w", err)
	}

	return BuildStatus{
		Commit: identity.Commit(commit),
		URL:    url,
		Kind:   classify(status, mapping),
	}, nil
}

func classify(status string, mapping FieldMapping) BuildStatusKind {
	for _, v := range mapping.SuccessValues {
		if v == status {
			return BuildSucceeded
		}
	}
	for _, v := range mapping.FailureValues {
		if v == status {
			return BuildFailed
		}
	}
	return BuildStarted
}

// extract prefers a full jsonpath expression when pathExpr is non-empty,
// otherwise falls back to a flat gjson path over the same body.
func extract(body []byte, pathExpr, gjsonPath string) (string, error) {
	if pathExpr != "" {
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return "", fmt.Errorf("unmarshal webhook body: %w", err)
		}
		value, err := jsonpath.Get(pathExpr, doc)
		if err != nil {
			return "", fmt.Errorf("jsonpath %q: %w", pathExpr, err)
		}
		return fmt.Sprintf("%v", value), nil
	}
	if gjsonPath == "" {
		return "", nil
	}
	result := gjson.GetBytes(body, gjsonPath)
	if !result.Exists() {
		return "", nil
	}
	return result.String(), nil
}
