package ui_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/collaborators/ui"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	auth := ui.NewAdminAuth("test-secret")

	token, err := auth.IssueToken("operator", time.Hour)
	require.NoError(t, err)

	subject, err := auth.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "operator", subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := ui.NewAdminAuth("test-secret")

	token, err := auth.IssueToken("operator", -time.Minute)
	require.NoError(t, err)

	_, err = auth.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	auth1 := ui.NewAdminAuth("secret-one")
	auth2 := ui.NewAdminAuth("secret-two")

	token, err := auth1.IssueToken("operator", time.Hour)
	require.NoError(t, err)

	_, err = auth2.Verify(token)
	require.Error(t, err)
}

func TestIssueTokenRejectsEmptySecret(t *testing.T) {
	auth := ui.NewAdminAuth("")
	_, err := auth.IssueToken("operator", time.Hour)
	require.Error(t, err)
}
