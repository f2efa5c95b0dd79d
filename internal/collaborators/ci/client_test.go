package ci_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/collaborators/ci"
	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/ratelimit"
)

func TestStartBuildPostsTriggerRequest(t *testing.T) {
	var gotBody map[string]string
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := ci.NewClient(srv.URL, "secret-token", nil, ratelimit.Config{RequestsPerSecond: 100, Burst: 100})
	require.NoError(t, err)

	err = client.StartBuild(7, identity.Commit("abc123"))
	require.NoError(t, err)
	require.Equal(t, "abc123", gotBody["commit"])
	require.Equal(t, "Bearer secret-token", gotHeader.Get("Authorization"))
	require.Equal(t, "7", gotHeader.Get("X-Pipeline-Id"))
}

func TestStartBuildReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := ci.NewClient(srv.URL, "", nil, ratelimit.Config{RequestsPerSecond: 100, Burst: 100})
	require.NoError(t, err)

	err = client.StartBuild(1, identity.Commit("abc"))
	require.Error(t, err)
}

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	_, err := ci.NewClient("", "", nil, ratelimit.Config{})
	require.Error(t, err)
}
