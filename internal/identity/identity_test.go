package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/pipeline"
)

func TestPrStringFormatsOwnerRepoNumber(t *testing.T) {
	pr := identity.NewPr("acme", "widget", 7, identity.Remote("git@github.com:acme/widget.git"))
	require.Equal(t, "acme/widget#7", pr.String())
	require.Equal(t, identity.Remote("git@github.com:acme/widget.git"), pr.Remote())
}

func TestParsePrRoundTripsString(t *testing.T) {
	remote := identity.Remote("origin")
	pr := identity.NewPr("acme", "widget", 7, remote)

	parsed, err := identity.ParsePr(pr.String(), remote)
	require.NoError(t, err)
	require.Equal(t, pr, parsed)
}

func TestParsePrRejectsMalformedInput(t *testing.T) {
	_, err := identity.ParsePr("not-a-pr", identity.Remote("origin"))
	require.Error(t, err)

	_, err = identity.ParsePr("acme/widget#notanumber", identity.Remote("origin"))
	require.Error(t, err)

	_, err = identity.ParsePr("acmewidget#7", identity.Remote("origin"))
	require.Error(t, err)
}

func TestCommitEqualComparesBySHA(t *testing.T) {
	a := identity.Commit("abc123")
	b := identity.Commit("abc123")
	c := identity.Commit("def456")

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestCommitEqualRejectsForeignType(t *testing.T) {
	a := identity.Commit("abc123")
	require.False(t, a.Equal(foreignCommit("abc123")))
}

type foreignCommit string

func (f foreignCommit) String() string { return string(f) }
func (f foreignCommit) Equal(other pipeline.Commit) bool {
	o, ok := other.(foreignCommit)
	return ok && o == f
}
