// Package storage persists index pairs on disk and records builds in SQLite.
package storage

import (
	"context"
	"errors"

	"github.com/nomdn/dress-api/internal/models"
)

// Document file names inside a generation.
const (
	MasterFile = "index_0.json"
	AuthorFile = "index_1.json"
)

// ErrNoIndex is returned when no index pair has been persisted yet.
var ErrNoIndex = errors.New("no persisted index")

// IndexStore persists escaped index pairs so that readers always see both
// documents from the same build.
type IndexStore interface {
	Save(ctx context.Context, snap *models.Snapshot) error
	Load() (*models.Snapshot, error)
	ReadDocument(name string) ([]byte, error)
	Exists() bool
}

// Ledger records build attempts.
type Ledger interface {
	Begin(ctx context.Context, b *models.Build) error
	Finish(ctx context.Context, b *models.Build) error
	Last(ctx context.Context) (*models.Build, error)
	List(ctx context.Context, limit int) ([]*models.Build, error)
	Close() error
}
