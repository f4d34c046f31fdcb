// Package syncer owns the index lifecycle: bootstrapping from disk or a fresh
// build, coalesced rebuilds, repository pulls, and scheduled or watched resyncs.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nomdn/dress-api/internal/catalog"
	"github.com/nomdn/dress-api/internal/config"
	"github.com/nomdn/dress-api/internal/enumerate"
	"github.com/nomdn/dress-api/internal/escape"
	"github.com/nomdn/dress-api/internal/github"
	"github.com/nomdn/dress-api/internal/history"
	"github.com/nomdn/dress-api/internal/indexer"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/mirror"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/storage"
	"github.com/nomdn/dress-api/internal/vcs"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Build triggers recorded in the ledger.
const (
	TriggerStartup  = "startup"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
	TriggerCLI      = "cli"
	TriggerMirror   = "mirror"
)

// Seeder supplies a published pair when nothing can be loaded or built.
type Seeder interface {
	FetchSnapshot(ctx context.Context) (*models.Snapshot, error)
}

// State is what the HTTP layer serves: one snapshot and its search catalog.
type State struct {
	Snapshot *models.Snapshot
	Catalog  *catalog.Catalog
}

// Service builds, persists and serves index snapshots.
type Service struct {
	cfg       *config.Config
	lister    enumerate.Lister
	resolver  history.Resolver
	repo      *vcs.Repo
	seeder    Seeder
	store     storage.IndexStore
	ledger    storage.Ledger
	logger    *zap.Logger
	now       func() time.Time
	flight    singleflight.Group
	workMu    sync.Mutex
	state     atomic.Pointer[State]
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLister replaces the path enumerator chosen from the config.
func WithLister(l enumerate.Lister) Option {
	return func(s *Service) { s.lister = l }
}

// WithResolver replaces the authorship resolver chosen from the config.
func WithResolver(r history.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithSeeder replaces the mirror fetcher used when bootstrapping fails.
func WithSeeder(sd Seeder) Option {
	return func(s *Service) { s.seeder = sd }
}

// WithClock sets the time source for build timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires the enumerator and resolver for cfg.Source.Mode. In local mode
// they read the checkout at cfg.Source.RepoDir; in remote mode they call the
// GitHub API.
func New(cfg *config.Config, store storage.IndexStore, ledger storage.Ledger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	resolverOpts := []history.ResolverOption{
		history.WithSentinel(cfg.Index.SentinelAuthor),
		history.WithLogger(s.logger),
	}
	switch cfg.Source.Mode {
	case config.ModeRemote:
		client := github.New(cfg.Source.GitHub, github.WithLogger(s.logger))
		if s.lister == nil {
			s.lister = client
		}
		if s.resolver == nil {
			s.resolver = history.NewRemoteResolver(client, resolverOpts...)
		}
	default:
		s.repo = vcs.NewRepo(cfg.Source.RepoDir, cfg.Source.GitTimeout)
		if s.lister == nil {
			s.lister = enumerate.Dir{Root: cfg.Source.RepoDir, RespectGitignore: cfg.Source.RespectGitignore}
		}
		if s.resolver == nil {
			s.resolver = history.NewGitResolver(s.repo, resolverOpts...)
		}
	}
	if s.seeder == nil && !cfg.Mirror.Disabled && len(cfg.Mirror.BaseURLs) > 0 {
		s.seeder = mirror.New(cfg.Mirror, mirror.WithLogger(s.logger))
	}
	return s
}

// Current returns the served state, or nil before the first load or build.
func (s *Service) Current() *State {
	return s.state.Load()
}

// Bootstrap prepares the service for serving. In local mode the repository is
// cloned when missing. A persisted pair is loaded when present; otherwise a
// build runs now. When neither works the pair is seeded from the mirrors.
func (s *Service) Bootstrap(ctx context.Context) error {
	var buildErr error
	if s.repo != nil && !s.repo.Exists() && s.cfg.Source.CloneURL != "" {
		_, buildErr = vcs.Clone(ctx, s.cfg.Source.CloneURL, s.cfg.Source.Branch, s.cfg.Source.RepoDir,
			s.cfg.Source.CloneAttempts, 0, s.logger)
	}
	loaded, err := s.LoadPersisted()
	if loaded {
		if buildErr != nil {
			s.logger.Warn("clone failed, serving persisted index", zap.Error(buildErr))
		}
		return nil
	}
	if err != nil {
		s.logger.Warn("persisted index unreadable, rebuilding", zap.Error(err))
	}
	if buildErr == nil {
		if _, buildErr = s.Build(ctx, TriggerStartup); buildErr == nil {
			return nil
		}
	}
	if s.seeder == nil || ctx.Err() != nil {
		return buildErr
	}
	s.logger.Warn("index build unavailable, seeding from mirrors", zap.Error(buildErr))
	if err := s.seed(ctx); err != nil {
		return errors.Join(buildErr, err)
	}
	return nil
}

// seed fetches the published pair, persists it and serves it. It is recorded
// in the ledger like a build.
func (s *Service) seed(ctx context.Context) error {
	s.workMu.Lock()
	defer s.workMu.Unlock()

	b := &models.Build{
		ID:        uuid.New().String(),
		Mode:      TriggerMirror,
		Trigger:   TriggerMirror,
		StartedAt: s.now(),
	}
	logger := s.logger.With(zap.String("build_id", b.ID))
	if err := s.ledger.Begin(ctx, b); err != nil {
		logger.Warn("ledger begin failed", zap.Error(err))
	}

	snap, err := s.seeder.FetchSnapshot(ctx)
	if err == nil {
		snap.BuildID = b.ID
		b.Stats = models.BuildStats{Found: snap.Len(), Indexed: snap.Len()}
		err = s.store.Save(ctx, snap)
	}
	if err == nil {
		err = s.install(snap)
	}

	finished := s.now()
	b.FinishedAt = &finished
	b.Status = models.BuildSucceeded
	if err != nil {
		b.Status = models.BuildFailed
		b.Error = err.Error()
	}
	if lerr := s.ledger.Finish(context.WithoutCancel(ctx), b); lerr != nil {
		logger.Warn("ledger finish failed", zap.Error(lerr))
	}
	if err != nil {
		logger.Error("mirror seed failed", zap.Error(err))
		return fmt.Errorf("seed from mirrors: %w", err)
	}
	logger.Info("index seeded from mirrors", zap.Int("files", snap.Len()))
	return nil
}

// LoadPersisted installs the persisted pair without building. It reports
// false with a nil error when nothing has been persisted yet.
func (s *Service) LoadPersisted() (bool, error) {
	if !s.store.Exists() {
		return false, nil
	}
	snap, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if err := s.install(snap); err != nil {
		return false, err
	}
	s.logger.Info("loaded persisted index", zap.String("build_id", snap.BuildID), zap.Int("files", snap.Len()))
	return true, nil
}

// Build runs one full build and installs the result. Concurrent calls share a
// single build and its result.
func (s *Service) Build(ctx context.Context, trigger string) (*models.Build, error) {
	ch := s.flight.DoChan("build", func() (any, error) {
		return s.build(ctx, trigger)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		b, _ := res.Val.(*models.Build)
		if res.Shared {
			s.logger.Debug("build request coalesced", zap.String("trigger", trigger))
		}
		return b, res.Err
	}
}

func (s *Service) build(ctx context.Context, trigger string) (*models.Build, error) {
	s.workMu.Lock()
	defer s.workMu.Unlock()

	start := time.Now()
	b := &models.Build{
		ID:        uuid.New().String(),
		Mode:      s.cfg.Source.Mode,
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	logger := s.logger.With(zap.String("build_id", b.ID), zap.String("trigger", trigger))
	if err := s.ledger.Begin(ctx, b); err != nil {
		logger.Warn("ledger begin failed", zap.Error(err))
	}
	logger.Info("index build started", zap.String("mode", b.Mode))

	snap, stats, err := s.assemble(ctx, b.ID)
	b.Stats = stats
	if err == nil {
		err = s.store.Save(ctx, snap)
	}
	if err == nil {
		err = s.install(snap)
	}

	finished := s.now()
	b.FinishedAt = &finished
	if err != nil {
		b.Status = models.BuildFailed
		b.Error = err.Error()
	} else {
		b.Status = models.BuildSucceeded
	}
	// The ledger row is written even when ctx was cancelled.
	if lerr := s.ledger.Finish(context.WithoutCancel(ctx), b); lerr != nil {
		logger.Warn("ledger finish failed", zap.Error(lerr))
	}
	metrics.ObserveBuild(b.Status, time.Since(start))

	if err != nil {
		logger.Error("index build failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return b, err
	}
	logger.Info("index build finished",
		zap.Int("found", stats.Found),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return b, nil
}

// assemble enumerates, resolves and escapes. Nothing is persisted here.
func (s *Service) assemble(ctx context.Context, buildID string) (*models.Snapshot, models.BuildStats, error) {
	paths, err := s.lister.List(ctx)
	if err != nil {
		return nil, models.BuildStats{}, fmt.Errorf("enumerate images: %w", err)
	}
	asm := indexer.NewAssembler(s.resolver,
		indexer.WithWorkers(s.cfg.Index.Workers),
		indexer.WithLogger(s.logger.With(zap.String("build_id", buildID))))
	master, authors, stats, err := asm.Assemble(ctx, paths)
	if err != nil {
		return nil, stats, err
	}
	return &models.Snapshot{
		BuildID: buildID,
		BuiltAt: s.now(),
		Master:  escape.EscapeMaster(master),
		Authors: escape.EscapeAuthor(authors),
	}, stats, nil
}

// install builds the search catalog and swaps the served state.
// The previous catalog is in-memory and is released with its state.
func (s *Service) install(snap *models.Snapshot) error {
	cat, err := catalog.Build(snap)
	if err != nil {
		return err
	}
	s.state.Store(&State{Snapshot: snap, Catalog: cat})
	metrics.IndexedFiles.Set(float64(snap.Len()))
	metrics.Authors.Set(float64(len(snap.Authors)))
	return nil
}

// Pull updates the local checkout. It is a no-op in remote mode.
func (s *Service) Pull(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	s.workMu.Lock()
	defer s.workMu.Unlock()
	if s.cfg.Sync.PullTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Sync.PullTimeout)
		defer cancel()
	}
	return s.repo.Pull(ctx)
}

// Sync pulls the repository and, when rebuild is set, rebuilds the indices.
// Pull failures are logged and do not prevent the rebuild.
func (s *Service) Sync(ctx context.Context, rebuild bool, trigger string) error {
	metrics.SyncRequests.WithLabelValues(trigger, fmt.Sprint(rebuild)).Inc()
	if err := s.Pull(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Warn("repository pull failed", zap.String("trigger", trigger), zap.Error(err))
	} else if s.repo != nil {
		s.logger.Info("repository pulled", zap.String("trigger", trigger))
		// A build already in flight read the tree before this pull.
		s.flight.Forget("build")
	}
	if !rebuild {
		return nil
	}
	_, err := s.Build(ctx, trigger)
	return err
}

// RequestSync runs Sync in the background under the service lifetime.
func (s *Service) RequestSync(rebuild bool, trigger string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Sync(s.baseCtx, rebuild, trigger); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("background sync failed", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
}

// LastBuild returns the newest ledger entry, or nil.
func (s *Service) LastBuild(ctx context.Context) (*models.Build, error) {
	return s.ledger.Last(ctx)
}

// Close cancels background syncs and waits for them.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}
