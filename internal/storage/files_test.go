package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nomdn/dress-api/internal/models"
)

func snapshot(id string, n int) *models.Snapshot {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	master := models.MasterIndex{}
	authors := models.AuthorIndex{}
	for i := 1; i <= n; i++ {
		p := fmt.Sprintf("%s-%d.jpg", id, i)
		master[i] = models.MasterEntry{Path: p, Contributors: []models.Contributor{{Name: "X", Email: "x@example.com"}}, LatestModified: &ts}
		authors["X"] = append(authors["X"], models.AuthorItem{Path: p, LatestModified: &ts})
	}
	return &models.Snapshot{BuildID: id, BuiltAt: ts, Master: master, Authors: authors}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if store.Exists() {
		t.Fatal("empty store should not report an index")
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("Load on empty store: err = %v, want ErrNoIndex", err)
	}

	if err := store.Save(context.Background(), snapshot("b1", 3)); err != nil {
		t.Fatal(err)
	}
	if !store.Exists() {
		t.Fatal("Exists should be true after Save")
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.BuildID != "b1" || got.Len() != 3 || got.Authors.PathCount() != 3 {
		t.Errorf("loaded %+v", got)
	}
	if got.Master[2].Path != "b1-2.jpg" {
		t.Errorf("master[2] = %+v", got.Master[2])
	}

	data, err := os.ReadFile(filepath.Join(dir, MasterFile))
	if err != nil {
		t.Fatalf("top-level link: %v", err)
	}
	if !strings.Contains(string(data), `"1": [`) {
		t.Errorf("unexpected master document:\n%s", data)
	}
	raw, err := store.ReadDocument(AuthorFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "latest_commit_time") {
		t.Errorf("unexpected author document:\n%s", raw)
	}
	if _, err := store.ReadDocument("../secret"); err == nil {
		t.Error("ReadDocument accepted an unknown name")
	}
}

func TestFileStore_PrunesOldGenerations(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), WithKeep(2))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Save(context.Background(), snapshot(fmt.Sprintf("g%d", i), 1)); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := store.Generations()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("generations = %v, want 2", ids)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.BuildID != "g4" {
		t.Errorf("current = %s, want g4", got.BuildID)
	}
}

func TestFileStore_CancelledSaveKeepsPrevious(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), snapshot("old", 2)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, snapshot("new", 5)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.BuildID != "old" || got.Len() != 2 {
		t.Errorf("previous pair replaced: %+v", got)
	}
}

// Readers running during repeated swaps must always see a matching pair.
func TestFileStore_ReadersSeeMatchingPairs(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), WithKeep(3))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), snapshot("s0", 1)); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mismatch error
	var once sync.Once
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, err := store.Load()
				if errors.Is(err, fs.ErrNotExist) {
					// generation pruned while this reader lagged behind
					continue
				}
				if err != nil {
					once.Do(func() { mismatch = err })
					return
				}
				if snap.Len() != snap.Authors.PathCount() {
					once.Do(func() { mismatch = fmt.Errorf("master %d vs author %d", snap.Len(), snap.Authors.PathCount()) })
					return
				}
			}
		}()
	}
	for i := 1; i <= 20; i++ {
		if err := store.Save(context.Background(), snapshot(fmt.Sprintf("s%d", i), i%4+1)); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
	if mismatch != nil {
		t.Fatal(mismatch)
	}
}

func TestFileStore_Usage(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "public"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), snapshot("u", 2)); err != nil {
		t.Fatal(err)
	}
	u, err := store.Usage(filepath.Join(dir, "missing.db"))
	if err != nil {
		t.Fatal(err)
	}
	if u.IndexBytes == 0 || u.Generations != 1 || u.LedgerBytes != 0 {
		t.Errorf("usage = %+v", u)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := WriteFileAtomic(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0600); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
