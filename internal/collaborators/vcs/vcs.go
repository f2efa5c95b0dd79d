// Package vcs implements the VCS collaborator binding by shelling out to
// git, grounded on the `os/exec`-driven repository operations in
// _examples/markus-barta-nixfleet's internal/agent/repo.go (no Git client
// library appears anywhere in the retrieval pack; git is always operated by
// invoking the `git` binary, so that is the idiom this binding follows too).
package vcs

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

// Git implements pipeline.Vcs against a single local checkout of workdir.
// A mutex serializes every call: a local git checkout has one working tree
// and one index, so two concurrent git invocations against it would race
// (this is also why collaborators.DefaultRouterConfig gives VCS a
// single worker instead of a pool).
type Git struct {
	workdir string
	remote  string
	staging string
	master  string

	mu  sync.Mutex
	log *logger.Logger
}

// Config configures a Git binding.
type Config struct {
	Workdir string
	Remote  string // e.g. "origin"
	Staging string // staging branch name
	Master  string // master/main branch name
}

// New builds a Git binding. workdir must already contain a git checkout
// with Remote configured.
func New(cfg Config, log *logger.Logger) *Git {
	if log == nil {
		log = logger.NewFromEnv("vcs")
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Staging == "" {
		cfg.Staging = "staging"
	}
	if cfg.Master == "" {
		cfg.Master = "master"
	}
	return &Git{
		workdir: cfg.Workdir,
		remote:  cfg.Remote,
		staging: cfg.Staging,
		master:  cfg.Master,
		log:     log,
	}
}

// MergeToStaging implements pipeline.Vcs: merges pullCommit onto the staging
// branch with a merge commit (--no-ff) whose message is message.
func (g *Git) MergeToStaging(pipelineID pipeline.PipelineId, pullCommit pipeline.Commit, message string, remote pipeline.Remote) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.run("fetch", g.remote); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := g.run("checkout", "-B", g.staging, g.remote+"/"+g.staging); err != nil {
		return fmt.Errorf("checkout staging: %w", err)
	}
	if err := g.run("merge", "--no-ff", "-m", message, pullCommit.String()); err != nil {
		return fmt.Errorf("merge %s onto staging: %w", pullCommit.String(), err)
	}
	if err := g.run("push", g.remote, g.staging); err != nil {
		return fmt.Errorf("push staging: %w", err)
	}
	return nil
}

// MoveStagingToMaster implements pipeline.Vcs: fast-forwards master onto
// commit, which must already be an ancestor-reachable staging commit.
func (g *Git) MoveStagingToMaster(pipelineID pipeline.PipelineId, commit pipeline.Commit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.run("fetch", g.remote); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := g.run("checkout", "-B", g.master, g.remote+"/"+g.master); err != nil {
		return fmt.Errorf("checkout master: %w", err)
	}
	if err := g.run("merge", "--ff-only", commit.String()); err != nil {
		return fmt.Errorf("fast-forward master to %s: %w", commit.String(), err)
	}
	if err := g.run("push", g.remote, g.master); err != nil {
		return fmt.Errorf("push master: %w", err)
	}
	return nil
}

func (g *Git) run(args ...string) error {
	cmd := exec.Command("git", append([]string{"-C", g.workdir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		g.log.WithFields(nil).
			WithField("args", strings.Join(args, " ")).
			WithField("output", string(output)).
			WithError(err).
			Error("git command failed")
		return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
