package syncer

import (
	"context"
	"time"

	"github.com/nomdn/dress-api/internal/watcher"
	"go.uber.org/zap"
)

// Run drives scheduled resyncs and, in local mode with sync.watch set, rebuilds
// after changes to the tracked tree. It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Sync.Watch && s.repo != nil {
		w := watcher.NewWatcher(s.cfg.Source.RepoDir, func(paths []string) {
			s.logger.Info("tracked tree changed", zap.Int("paths", len(paths)), zap.Strings("sample", sample(paths, 5)))
			if _, err := s.Build(ctx, TriggerWatch); err != nil && ctx.Err() == nil {
				s.logger.Warn("watch rebuild failed", zap.Error(err))
			}
		}, watcher.WithDebounce(s.cfg.Sync.Debounce), watcher.WithLogger(s.logger))
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		s.logger.Info("watching tracked tree", zap.String("root", w.Root()))
	}

	if s.cfg.Sync.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cfg.Sync.Interval)
	defer ticker.Stop()
	s.logger.Info("scheduled resync enabled", zap.Duration("interval", s.cfg.Sync.Interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx, true, TriggerSchedule); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled resync failed", zap.Error(err))
			}
		}
	}
}

func sample(paths []string, n int) []string {
	if len(paths) <= n {
		return paths
	}
	return paths[:n]
}
