package pipeline_test

import "github.com/r3e-network/mergequeue/internal/pipeline"

// Minimal, comparable test doubles for the engine's opaque identity
// interfaces. Concrete bindings (VCS/UI) use their provider's own types; the
// engine never cares which, only that Commit.Equal and Pr/Remote
// stringification behave sensibly.

type testRemote string

func (r testRemote) String() string { return string(r) }

type testPr string

func (p testPr) String() string     { return string(p) }
func (p testPr) Remote() pipeline.Remote { return testRemote("origin") }

type testCommit string

func (c testCommit) String() string { return string(c) }
func (c testCommit) Equal(other pipeline.Commit) bool {
	o, ok := other.(testCommit)
	return ok && o == c
}

func commit(s string) pipeline.Commit { return testCommit(s) }
func pr(s string) pipeline.Pr         { return testPr(s) }
