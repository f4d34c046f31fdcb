// Package vcstest builds throwaway git repositories for tests.
package vcstest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// Repo is a temporary git repository.
type Repo struct {
	t   testing.TB
	Dir string
}

// New initializes an empty repository in a temp dir. The test is skipped when git is unavailable.
func New(t testing.TB) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &Repo{t: t, Dir: t.TempDir()}
	r.Git("init", "-q", "-b", "master")
	r.Git("config", "user.name", "setup")
	r.Git("config", "user.email", "setup@example.com")
	r.Git("config", "commit.gpgsign", "false")
	return r
}

// Git runs a git command in the repository and fails the test on error.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	return r.gitEnv(nil, args...)
}

func (r *Repo) gitEnv(env []string, args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

// Write creates or overwrites path with content.
func (r *Repo) Write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		r.t.Fatal(err)
	}
}

// Commit stages everything and commits as name <email> at date (RFC 3339).
func (r *Repo) Commit(name, email, date, msg string) {
	r.t.Helper()
	r.Git("add", "-A")
	r.commitStaged(name, email, date, msg)
}

func (r *Repo) commitStaged(name, email, date, msg string) {
	r.t.Helper()
	env := []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
		"GIT_COMMITTER_DATE=" + date,
	}
	r.gitEnv(env, "commit", "-q", "-m", msg)
}

// WriteAndCommit writes path and commits only that path. Other untracked
// files in the work tree stay untracked.
func (r *Repo) WriteAndCommit(path, content, name, email, date string) {
	r.t.Helper()
	r.Write(path, content)
	r.Git("add", "--", path)
	r.commitStaged(name, email, date, "update "+path)
}
