package apierrors_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/apierrors"
)

func TestServiceErrorFormatsCauseWhenWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := apierrors.Wrap(apierrors.ErrCodeStorage, "storage operation failed", http.StatusInternalServerError, cause)

	require.Equal(t, "[PIPE_5001] storage operation failed: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestServiceErrorFormatsWithoutCause(t *testing.T) {
	err := apierrors.New(apierrors.ErrCodeNotFound, "pipeline not found", http.StatusNotFound)
	require.Equal(t, "[PIPE_4001] pipeline not found", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestWithDetailsAccumulates(t *testing.T) {
	err := apierrors.InvalidInput("commit", "empty")
	require.Equal(t, "commit", err.Details["field"])
	require.Equal(t, "empty", err.Details["reason"])
}

func TestPipelineNotFoundCarriesID(t *testing.T) {
	err := apierrors.PipelineNotFound(int64(42))
	require.Equal(t, apierrors.ErrCodeNotFound, err.Code)
	require.Equal(t, http.StatusNotFound, err.HTTPStatus)
	require.Equal(t, int64(42), err.Details["pipeline_id"])
}

func TestCollaboratorErrorWrapsCauseAndNamesCollaborator(t *testing.T) {
	cause := errors.New("timeout")
	err := apierrors.CollaboratorError("ci", cause)

	require.Equal(t, apierrors.ErrCodeCollaborator, err.Code)
	require.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	require.Equal(t, "ci", err.Details["collaborator"])
	require.ErrorIs(t, err, cause)
}

func TestRateLimitedNamesCollaboratorAndStatus(t *testing.T) {
	err := apierrors.RateLimited("vcs")
	require.Equal(t, apierrors.ErrCodeRateLimited, err.Code)
	require.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	require.Equal(t, "vcs", err.Details["collaborator"])
}
