// Package history resolves per-file authorship from commit history.
package history

import (
	"context"
	"time"

	"github.com/nomdn/dress-api/internal/models"
	"go.uber.org/zap"
)

// DefaultSentinel is the bot identity used for automated uploads.
const DefaultSentinel = "CuteDress"

// Resolver returns the authorship of one tracked file.
// An empty Authorship with a nil error means the file has no history.
type Resolver interface {
	Resolve(ctx context.Context, path string) (models.Authorship, error)
}

// CommitSource lists the commits touching a path, newest first.
type CommitSource interface {
	ListCommits(ctx context.Context, path string) ([]models.Commit, error)
}

// Derive computes authorship from a newest-first commit list.
//
// Contributors are deduplicated by exact (name, email) in first-seen order.
// LatestModified is the newest commit's date. The first author is the oldest
// commit whose author is not sentinel; when every commit is by sentinel, the
// oldest commit's author is credited.
func Derive(commits []models.Commit, sentinel string, logger *zap.Logger) models.Authorship {
	if len(commits) == 0 {
		return models.Authorship{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[models.Contributor]struct{}, len(commits))
	var contributors []models.Contributor
	for _, c := range commits {
		if _, ok := seen[c.Author]; ok {
			continue
		}
		seen[c.Author] = struct{}{}
		contributors = append(contributors, c.Author)
	}

	var latest *time.Time
	if ts, err := time.Parse(time.RFC3339, commits[0].Date); err == nil {
		latest = &ts
	} else {
		logger.Warn("unparseable commit date",
			zap.String("commit", commits[0].Hash),
			zap.String("date", commits[0].Date),
			zap.Error(err))
	}

	first := commits[len(commits)-1].Author
	for i := len(commits) - 1; i >= 0; i-- {
		if commits[i].Author.Name != sentinel {
			first = commits[i].Author
			break
		}
	}

	return models.Authorship{
		Contributors:   contributors,
		FirstAuthor:    &first,
		LatestModified: latest,
	}
}
