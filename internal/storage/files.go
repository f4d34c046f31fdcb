package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nomdn/dress-api/internal/models"
	"go.uber.org/zap"
)

const (
	generationsDir = "generations"
	currentLink    = "current"
	metaFile       = "build.json"
)

type generationMeta struct {
	BuildID string    `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`
}

// FileStore keeps each build in its own generation directory and points a
// "current" symlink at the newest one. Swapping the symlink with rename is
// atomic, so a reader that resolves "current" once reads a matching pair.
//
// Layout:
//
//	<dir>/generations/<id>/index_0.json
//	<dir>/generations/<id>/index_1.json
//	<dir>/current -> generations/<id>
//	<dir>/index_0.json -> current/index_0.json
//	<dir>/index_1.json -> current/index_1.json
type FileStore struct {
	dir    string
	keep   int
	logger *zap.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStoreLogger sets the logger for pruning and swap events.
func WithStoreLogger(l *zap.Logger) FileStoreOption {
	return func(s *FileStore) { s.logger = l }
}

// WithKeep sets how many generations survive pruning, the current one included. Minimum 1.
func WithKeep(n int) FileStoreOption {
	return func(s *FileStore) { s.keep = n }
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{dir: dir, keep: 2, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.keep < 1 {
		s.keep = 1
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, generationsDir), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	return s, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string { return s.dir }

// Save writes both documents into a new generation and makes it current.
// Paths in snap must already be escaped.
func (s *FileStore) Save(ctx context.Context, snap *models.Snapshot) error {
	id := snap.BuildID
	if id == "" {
		id = uuid.New().String()
	}
	rel := filepath.Join(generationsDir, id)
	genDir := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(genDir, 0755); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}

	docs := []struct {
		name string
		v    any
	}{
		{MasterFile, snap.Master},
		{AuthorFile, snap.Authors},
		{metaFile, generationMeta{BuildID: snap.BuildID, BuiltAt: snap.BuiltAt}},
	}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(genDir)
			return err
		}
		data, err := marshalDocument(d.v)
		if err != nil {
			_ = os.RemoveAll(genDir)
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		if err := WriteFileAtomic(filepath.Join(genDir, d.name), data, 0644); err != nil {
			_ = os.RemoveAll(genDir)
			return err
		}
	}

	if err := s.swap(rel); err != nil {
		_ = os.RemoveAll(genDir)
		return err
	}
	if err := s.ensureTopLevelLinks(); err != nil {
		s.logger.Warn("could not link top-level index files", zap.Error(err))
	}
	s.logger.Info("index generation saved", zap.String("generation", id))
	s.prune(id)
	return nil
}

func (s *FileStore) swap(rel string) error {
	tmp := filepath.Join(s.dir, ".current-"+uuid.New().String())
	if err := os.Symlink(rel, tmp); err != nil {
		return fmt.Errorf("link generation: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentLink)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap current generation: %w", err)
	}
	return syncDir(s.dir)
}

// ensureTopLevelLinks keeps <dir>/index_N.json pointing through "current" for
// readers that open the documents by their plain names.
func (s *FileStore) ensureTopLevelLinks() error {
	for _, name := range []string{MasterFile, AuthorFile} {
		link := filepath.Join(s.dir, name)
		target := filepath.Join(currentLink, name)
		if got, err := os.Readlink(link); err == nil && got == target {
			continue
		}
		tmp := link + ".tmp-" + uuid.New().String()
		if err := os.Symlink(target, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, link); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}
	return nil
}

// current resolves the current generation directory.
func (s *FileStore) current() (string, error) {
	target, err := os.Readlink(filepath.Join(s.dir, currentLink))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoIndex
	}
	if err != nil {
		return "", fmt.Errorf("resolve current generation: %w", err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.dir, target)
	}
	return target, nil
}

// Exists reports whether a complete pair is persisted.
func (s *FileStore) Exists() bool {
	gen, err := s.current()
	if err != nil {
		return false
	}
	for _, name := range []string{MasterFile, AuthorFile} {
		if info, err := os.Stat(filepath.Join(gen, name)); err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// ReadDocument returns the raw bytes of MasterFile or AuthorFile from the current generation.
func (s *FileStore) ReadDocument(name string) ([]byte, error) {
	if name != MasterFile && name != AuthorFile {
		return nil, fmt.Errorf("unknown index document %q", name)
	}
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(gen, name))
}

// Load reads the current pair. Both documents come from the same generation.
func (s *FileStore) Load() (*models.Snapshot, error) {
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	snap := &models.Snapshot{}
	if err := readJSON(filepath.Join(gen, MasterFile), &snap.Master); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(gen, AuthorFile), &snap.Authors); err != nil {
		return nil, err
	}
	var meta generationMeta
	if err := readJSON(filepath.Join(gen, metaFile), &meta); err == nil {
		snap.BuildID = meta.BuildID
		snap.BuiltAt = meta.BuiltAt
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("unreadable generation metadata", zap.String("generation", gen), zap.Error(err))
	}
	if snap.Master == nil {
		snap.Master = models.MasterIndex{}
	}
	if snap.Authors == nil {
		snap.Authors = models.AuthorIndex{}
	}
	return snap, nil
}

// Generations returns generation ids, newest first.
func (s *FileStore) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, generationsDir))
	if err != nil {
		return nil, err
	}
	type gen struct {
		id  string
		mod time.Time
	}
	var gens []gen
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		gens = append(gens, gen{id: e.Name(), mod: info.ModTime()})
	}
	sort.SliceStable(gens, func(i, j int) bool { return gens[i].mod.After(gens[j].mod) })
	ids := make([]string, len(gens))
	for i, g := range gens {
		ids[i] = g.id
	}
	return ids, nil
}

func (s *FileStore) prune(currentID string) {
	ids, err := s.Generations()
	if err != nil {
		s.logger.Warn("list generations", zap.Error(err))
		return
	}
	kept := 1
	for _, id := range ids {
		if id == currentID {
			continue
		}
		if kept < s.keep {
			kept++
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, generationsDir, id)); err != nil {
			s.logger.Warn("prune generation", zap.String("generation", id), zap.Error(err))
			continue
		}
		s.logger.Debug("pruned generation", zap.String("generation", id))
	}
}

func marshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
