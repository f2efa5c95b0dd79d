// Package identity provides the concrete Pr/Commit/Remote implementations
// used by the durable store backends and the reference collaborator
// bindings. The engine (internal/pipeline) only ever depends on the
// interfaces; this package is where those interfaces get a real, persistable
// shape: a PR addressed by owner/repo/number, a commit addressed by SHA, a
// remote addressed by its clone URL.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/r3e-network/mergequeue/internal/pipeline"
)

// Remote is a git remote identified by its clone URL.
type Remote string

func (r Remote) String() string { return string(r) }

// Pr identifies a pull request by its hosting repository and number.
type Pr struct {
	Owner  string
	Repo   string
	Number int
	remote Remote
}

// NewPr builds a Pr addressed against remote.
func NewPr(owner, repo string, number int, remote Remote) Pr {
	return Pr{Owner: owner, Repo: repo, Number: number, remote: remote}
}

func (p Pr) String() string { return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repo, p.Number) }

func (p Pr) Remote() pipeline.Remote { return p.remote }

// Commit is a commit identified by its SHA.
type Commit string

func (c Commit) String() string { return string(c) }

func (c Commit) Equal(other pipeline.Commit) bool {
	o, ok := other.(Commit)
	return ok && o == c
}

// ParsePr parses the "owner/repo#number" form produced by Pr.String, paired
// with the remote's URL, back into a Pr. Used by storage backends to
// reconstruct a Pr from its persisted string form.
func ParsePr(s string, remote Remote) (Pr, error) {
	ownerRepo, numStr, ok := strings.Cut(s, "#")
	if !ok {
		return Pr{}, fmt.Errorf("identity: malformed pr %q", s)
	}
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok {
		return Pr{}, fmt.Errorf("identity: malformed pr %q", s)
	}
	number, err := strconv.Atoi(numStr)
	if err != nil {
		return Pr{}, fmt.Errorf("identity: malformed pr number in %q: %w", s, err)
	}
	return NewPr(owner, repo, number, remote), nil
}
