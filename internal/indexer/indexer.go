// Package indexer assembles the master and author indices from enumerated paths.
package indexer

import (
	"context"

	"github.com/nomdn/dress-api/internal/history"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Assembler resolves every path once and folds the results into both indices.
type Assembler struct {
	resolver history.Resolver
	workers  int
	logger   *zap.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets a logger for skipped files and debug events.
func WithLogger(l *zap.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// WithWorkers sets how many paths are resolved concurrently. Values below 1 mean 1.
func WithWorkers(n int) AssemblerOption {
	return func(a *Assembler) { a.workers = n }
}

// NewAssembler creates an assembler backed by resolver.
func NewAssembler(resolver history.Resolver, opts ...AssemblerOption) *Assembler {
	a := &Assembler{resolver: resolver, workers: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		a.workers = 1
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

type resolution struct {
	authorship models.Authorship
	err        error
}

// Assemble resolves paths and returns the raw (unescaped) indices.
//
// Keys are assigned densely from 1 in the order of paths, regardless of which
// resolution finishes first. Files with no history or a resolution error are
// logged and left out of both indices. Cancelling ctx aborts the build and
// returns the context error.
func (a *Assembler) Assemble(ctx context.Context, paths []string) (models.MasterIndex, models.AuthorIndex, models.BuildStats, error) {
	stats := models.BuildStats{Found: len(paths)}
	results := make([]resolution, len(paths))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			auth, err := a.resolver.Resolve(ctx, path)
			results[i] = resolution{authorship: auth, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, stats, err
	}

	master := make(models.MasterIndex)
	authors := make(models.AuthorIndex)
	for i, path := range paths {
		r := results[i]
		switch {
		case r.err != nil:
			stats.Failed++
			metrics.SkippedFiles.WithLabelValues("error").Inc()
			a.logger.Warn("skipping file: resolution failed", zap.String("path", path), zap.Error(r.err))
		case r.authorship.Empty():
			stats.Skipped++
			metrics.SkippedFiles.WithLabelValues("no_history").Inc()
			a.logger.Warn("skipping file: no history", zap.String("path", path))
		default:
			stats.Indexed++
			master[stats.Indexed] = models.MasterEntry{
				Path:           path,
				Contributors:   r.authorship.Contributors,
				LatestModified: r.authorship.LatestModified,
			}
			name := creditedName(r.authorship)
			authors[name] = append(authors[name], models.AuthorItem{
				Path:           path,
				LatestModified: r.authorship.LatestModified,
			})
			a.logger.Debug("indexed file", zap.String("path", path), zap.Int("key", stats.Indexed), zap.String("author", name))
		}
	}
	return master, authors, stats, nil
}

func creditedName(a models.Authorship) string {
	if a.FirstAuthor != nil {
		return a.FirstAuthor.Name
	}
	return a.Contributors[len(a.Contributors)-1].Name
}
