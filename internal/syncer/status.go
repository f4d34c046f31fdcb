package syncer

import (
	"context"
	"time"

	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/storage"
	"go.uber.org/zap"
)

// Status summarizes the served index for the status endpoint and CLI.
type Status struct {
	Mode      string         `json:"mode"`
	Files     int            `json:"files"`
	Authors   int            `json:"authors"`
	BuildID   string         `json:"build_id,omitempty"`
	BuiltAt   *time.Time     `json:"built_at,omitempty"`
	Head      string         `json:"head,omitempty"`
	LastBuild *models.Build  `json:"last_build,omitempty"`
	Disk      *storage.Usage `json:"disk,omitempty"`
}

type usageReporter interface {
	Usage(ledgerPath string) (storage.Usage, error)
}

// Status reports the served snapshot, the latest ledger entry and disk usage.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Mode: s.cfg.Source.Mode}
	if cur := s.Current(); cur != nil {
		st.Files = cur.Snapshot.Len()
		st.Authors = len(cur.Snapshot.Authors)
		st.BuildID = cur.Snapshot.BuildID
		if !cur.Snapshot.BuiltAt.IsZero() {
			t := cur.Snapshot.BuiltAt
			st.BuiltAt = &t
		}
	}
	last, err := s.ledger.Last(ctx)
	if err != nil {
		return nil, err
	}
	st.LastBuild = last
	if s.repo != nil && s.repo.Exists() {
		if head, err := s.repo.Head(ctx); err == nil {
			st.Head = head
		} else {
			s.logger.Debug("read repository head", zap.Error(err))
		}
	}
	if u, ok := s.store.(usageReporter); ok {
		if usage, err := u.Usage(s.cfg.Storage.DatabasePath); err == nil {
			st.Disk = &usage
		} else {
			s.logger.Debug("disk usage", zap.Error(err))
		}
	}
	return st, nil
}
