package ci_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/collaborators/ci"
)

// Two distinct provider payload shapes, a flat one read with gjson paths and
// a nested one read with jsonpath expressions, each decode to a
// (commit, status, url) tuple.

func TestDecodeFlatGjsonPayload(t *testing.T) {
	body := []byte(`{"head_commit":"abc123","state":"success","target_url":"https://ci.example/builds/1"}`)
	mapping := ci.FieldMapping{
		CommitPath:    "head_commit",
		StatusPath:    "state",
		URLPath:       "target_url",
		SuccessValues: []string{"success"},
		FailureValues: []string{"failure", "error"},
	}

	status, err := ci.Decode(body, mapping)
	require.NoError(t, err)
	require.Equal(t, "abc123", status.Commit.String())
	require.Equal(t, "https://ci.example/builds/1", status.URL)
	require.Equal(t, ci.BuildSucceeded, status.Kind)
}

func TestDecodeNestedJSONPathPayload(t *testing.T) {
	body := []byte(`{"build":{"commit":{"sha":"abc123"},"result":"failure","links":{"web":"https://ci.example/builds/2"}}}`)
	mapping := ci.FieldMapping{
		CommitPathExpr: "$.build.commit.sha",
		StatusPathExpr: "$.build.result",
		URLPathExpr:    "$.build.links.web",
		SuccessValues:  []string{"success"},
		FailureValues:  []string{"failure", "error"},
	}

	status, err := ci.Decode(body, mapping)
	require.NoError(t, err)
	require.Equal(t, "abc123", status.Commit.String())
	require.Equal(t, "https://ci.example/builds/2", status.URL)
	require.Equal(t, ci.BuildFailed, status.Kind)
}

func TestDecodeUnknownStatusMapsToStarted(t *testing.T) {
	body := []byte(`{"head_commit":"abc123","state":"pending"}`)
	mapping := ci.FieldMapping{
		CommitPath:    "head_commit",
		StatusPath:    "state",
		SuccessValues: []string{"success"},
		FailureValues: []string{"failure"},
	}

	status, err := ci.Decode(body, mapping)
	require.NoError(t, err)
	require.Equal(t, ci.BuildStarted, status.Kind)
}

func TestDecodeRejectsMissingCommit(t *testing.T) {
	body := []byte(`{"state":"success"}`)
	mapping := ci.FieldMapping{CommitPath: "head_commit", StatusPath: "state"}

	_, err := ci.Decode(body, mapping)
	require.Error(t, err)
}
