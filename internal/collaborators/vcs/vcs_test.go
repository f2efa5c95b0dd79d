package vcs_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/collaborators/vcs"
	"github.com/r3e-network/mergequeue/internal/identity"
)

// runGit shells out the same way the binding under test does, to build a
// local "remote" bare repo plus a working clone for each test.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("git not available or command failed: %v: %s", err, out)
	}
	return string(out)
}

func setupRepos(t *testing.T) (remoteDir, workDir string) {
	t.Helper()
	remoteDir = t.TempDir()
	runGit(t, remoteDir, "init", "--bare", "-b", "master")

	workDir = t.TempDir()
	runGit(t, workDir, "init", "-b", "master")
	runGit(t, workDir, "config", "user.email", "bot@example.com")
	runGit(t, workDir, "config", "user.name", "mergequeue bot")
	runGit(t, workDir, "remote", "add", "origin", remoteDir)

	readme := filepath.Join(workDir, "README.md")
	require.NoError(t, writeFile(readme, "hello\n"))
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-m", "initial")
	runGit(t, workDir, "branch", "staging")
	runGit(t, workDir, "push", "origin", "master", "staging")

	return remoteDir, workDir
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func TestMergeToStagingCreatesMergeCommitAndPushes(t *testing.T) {
	_, workDir := setupRepos(t)

	runGit(t, workDir, "checkout", "-b", "feature")
	featureFile := filepath.Join(workDir, "feature.txt")
	require.NoError(t, writeFile(featureFile, "feature work\n"))
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-m", "feature work")
	commitSHA := runGit(t, workDir, "rev-parse", "HEAD")
	runGit(t, workDir, "checkout", "master")

	git := vcs.New(vcs.Config{Workdir: workDir, Remote: "origin", Staging: "staging", Master: "master"}, nil)

	err := git.MergeToStaging(1, identity.Commit(trim(commitSHA)), "merge feature", identity.Remote("origin"))
	require.NoError(t, err)

	log := runGit(t, workDir, "log", "origin/staging", "-1", "--pretty=%s")
	require.Contains(t, log, "merge feature")
}

func TestMoveStagingToMasterRequiresFastForward(t *testing.T) {
	_, workDir := setupRepos(t)

	runGit(t, workDir, "checkout", "staging")
	stagingFile := filepath.Join(workDir, "staged.txt")
	require.NoError(t, writeFile(stagingFile, "staged\n"))
	runGit(t, workDir, "add", ".")
	runGit(t, workDir, "commit", "-m", "staged change")
	commitSHA := runGit(t, workDir, "rev-parse", "HEAD")
	runGit(t, workDir, "push", "origin", "staging")
	runGit(t, workDir, "checkout", "master")

	git := vcs.New(vcs.Config{Workdir: workDir, Remote: "origin", Staging: "staging", Master: "master"}, nil)

	err := git.MoveStagingToMaster(1, identity.Commit(trim(commitSHA)))
	require.NoError(t, err)

	log := runGit(t, workDir, "log", "origin/master", "-1", "--pretty=%H")
	require.Equal(t, trim(commitSHA), trim(log))
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
