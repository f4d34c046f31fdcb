package history

import (
	"context"
	"fmt"

	"github.com/nomdn/dress-api/internal/github"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/vcs"
	"go.uber.org/zap"
)

// SourceResolver derives authorship from any CommitSource: a local git
// checkout or the remote commits API.
type SourceResolver struct {
	source   CommitSource
	sentinel string
	logger   *zap.Logger
}

// ResolverOption configures a SourceResolver.
type ResolverOption func(*SourceResolver)

// WithLogger sets the logger for date parse warnings.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *SourceResolver) { r.logger = l }
}

// WithSentinel sets the bot name skipped when crediting a first author.
func WithSentinel(name string) ResolverOption {
	return func(r *SourceResolver) { r.sentinel = name }
}

// NewResolver returns a Resolver over source.
func NewResolver(source CommitSource, opts ...ResolverOption) *SourceResolver {
	r := &SourceResolver{
		source:   source,
		sentinel: DefaultSentinel,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Resolve implements Resolver.
func (r *SourceResolver) Resolve(ctx context.Context, path string) (models.Authorship, error) {
	commits, err := r.source.ListCommits(ctx, path)
	if err != nil {
		return models.Authorship{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return Derive(commits, r.sentinel, r.logger.With(zap.String("path", path))), nil
}

// NewGitResolver resolves authorship from a local checkout with git log --follow.
func NewGitResolver(repo *vcs.Repo, opts ...ResolverOption) *SourceResolver {
	return NewResolver(repo, opts...)
}

// NewRemoteResolver resolves authorship from the GitHub commits API.
func NewRemoteResolver(client *github.Client, opts ...ResolverOption) *SourceResolver {
	return NewResolver(client, opts...)
}
