package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nomdn/dress-api/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		found INTEGER NOT NULL DEFAULT 0,
		indexed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Begin records a running build. StartedAt is set when zero.
func (l *SQLiteLedger) Begin(ctx context.Context, b *models.Build) error {
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}
	if b.Status == "" {
		b.Status = models.BuildRunning
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO builds (id, mode, trigger, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Mode, b.Trigger, b.Status, b.StartedAt,
	)
	return err
}

// Finish stores the final status, counts and error of a build. FinishedAt is set when nil.
func (l *SQLiteLedger) Finish(ctx context.Context, b *models.Build) error {
	if b.FinishedAt == nil {
		now := time.Now().UTC()
		b.FinishedAt = &now
	}
	result, err := l.db.ExecContext(ctx,
		`UPDATE builds SET status = ?, finished_at = ?, found = ?, indexed = ?, skipped = ?, failed = ?, error = ?
		 WHERE id = ?`,
		b.Status, *b.FinishedAt, b.Stats.Found, b.Stats.Indexed, b.Stats.Skipped, b.Stats.Failed, b.Error, b.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("build not found: %s", b.ID)
	}
	return nil
}

const selectBuild = `SELECT id, mode, trigger, status, started_at, finished_at, found, indexed, skipped, failed, error FROM builds`

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*models.Build, error) {
	var b models.Build
	var finished sql.NullTime
	if err := row.Scan(&b.ID, &b.Mode, &b.Trigger, &b.Status, &b.StartedAt, &finished,
		&b.Stats.Found, &b.Stats.Indexed, &b.Stats.Skipped, &b.Stats.Failed, &b.Error); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		b.FinishedAt = &t
	}
	return &b, nil
}

// Last returns the most recently started build, or nil when the ledger is empty.
func (l *SQLiteLedger) Last(ctx context.Context) (*models.Build, error) {
	b, err := scanBuild(l.db.QueryRowContext(ctx, selectBuild+` ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// Get returns a build by ID.
func (l *SQLiteLedger) Get(ctx context.Context, id string) (*models.Build, error) {
	b, err := scanBuild(l.db.QueryRowContext(ctx, selectBuild+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build not found: %s", id)
	}
	return b, err
}

// List returns up to limit builds, newest first.
func (l *SQLiteLedger) List(ctx context.Context, limit int) ([]*models.Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, selectBuild+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []*models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
