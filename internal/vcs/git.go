// Package vcs runs the git commands needed to track the image repository.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/pkg/utils"
	"go.uber.org/zap"
)

// LogFormat is the git log format parsed by ParseLog.
const LogFormat = "%H|%an|%ae|%cI"

const defaultTimeout = 30 * time.Second

// Repo is a local git checkout.
type Repo struct {
	Dir     string
	Timeout time.Duration
}

// NewRepo returns a Repo rooted at dir. A non-positive timeout means 30s per command.
func NewRepo(dir string, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Repo{Dir: dir, Timeout: timeout}
}

// Exists reports whether Dir holds a git checkout.
func (r *Repo) Exists() bool {
	_, err := os.Stat(filepath.Join(r.Dir, ".git"))
	return err == nil
}

// ListCommits returns the commits touching path, newest first, following renames.
func (r *Repo) ListCommits(ctx context.Context, path string) ([]models.Commit, error) {
	out, err := r.run(ctx, "--literal-pathspecs", "log", "--follow", "--format="+LogFormat, "--", path)
	if err != nil {
		return nil, err
	}
	return ParseLog(out)
}

// Pull fast-forwards the checkout from its upstream.
func (r *Repo) Pull(ctx context.Context) error {
	_, err := r.run(ctx, "pull", "--ff-only")
	return err
}

// Head returns the current commit hash.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	return runGit(ctx, r.Dir, r.Timeout, args...)
}

func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timeout after %v", subcommand(args), timeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("git %s: %w: %s", subcommand(args), err,
			utils.Truncate(strings.TrimSpace(stderr.String()), 300))
	}
	return stdout.String(), nil
}

func subcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return strings.Join(args, " ")
}

// ParseLog parses output produced with LogFormat. Blank lines are ignored.
// Author names may contain '|'; the hash is the first field and the date the last.
func ParseLog(out string) ([]models.Commit, error) {
	var commits []models.Commit
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		first := strings.Index(line, "|")
		last := strings.LastIndex(line, "|")
		if first < 0 || first == last {
			return nil, fmt.Errorf("malformed git log line %q", line)
		}
		middle := line[first+1 : last]
		sep := strings.LastIndex(middle, "|")
		if sep < 0 {
			return nil, fmt.Errorf("malformed git log line %q", line)
		}
		commits = append(commits, models.Commit{
			Hash:   line[:first],
			Author: models.Contributor{Name: middle[:sep], Email: middle[sep+1:]},
			Date:   line[last+1:],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commits, nil
}

// Clone clones a single branch of url into dir, retrying up to attempts times.
// A partially created dir is removed before each retry.
func Clone(ctx context.Context, url, branch, dir string, attempts int, timeout time.Duration, logger *zap.Logger) (*Repo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", parent, err)
	}
	args := []string{"clone", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dir)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		_, lastErr = runGit(ctx, parent, timeout, args...)
		if lastErr == nil {
			logger.Info("cloned repository", zap.String("url", url), zap.String("dir", dir), zap.Int("attempt", i))
			return NewRepo(dir, 0), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("clone failed", zap.String("url", url), zap.Int("attempt", i), zap.Int("of", attempts), zap.Error(lastErr))
		_ = os.RemoveAll(dir)
		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return nil, fmt.Errorf("clone %s after %d attempts: %w", url, attempts, lastErr)
}
