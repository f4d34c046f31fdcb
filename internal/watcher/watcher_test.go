package watcher

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

type batches struct {
	mu  sync.Mutex
	got [][]string
}

func (b *batches) add(paths []string) {
	b.mu.Lock()
	b.got = append(b.got, paths)
	b.mu.Unlock()
}

func (b *batches) snapshot() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, root string, b *batches) *Watcher {
	t.Helper()
	w := NewWatcher(root, b.add, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DebouncesImageChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	b := &batches{}
	startWatcher(t, root, b)

	write(t, filepath.Join(root, "a.jpg"), "1")
	write(t, filepath.Join(root, "a.jpg"), "2")
	write(t, filepath.Join(root, "sub", "c#1.GIF"), "3")
	write(t, filepath.Join(root, "notes.txt"), "ignored")

	waitFor(t, func() bool { return len(b.snapshot()) > 0 })
	time.Sleep(250 * time.Millisecond)
	got := b.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected one debounced batch, got %v", got)
	}
	if want := []string{"a.jpg", "sub/c#1.GIF"}; !reflect.DeepEqual(got[0], want) {
		t.Errorf("batch = %v, want %v", got[0], want)
	}
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	b := &batches{}
	startWatcher(t, root, b)

	newDir := filepath.Join(root, "album")
	if err := os.Mkdir(newDir, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	write(t, filepath.Join(newDir, "x.png"), "png")

	waitFor(t, func() bool {
		for _, batch := range b.snapshot() {
			for _, p := range batch {
				if p == "album/x.png" {
					return true
				}
			}
		}
		return false
	})
}

func TestWatcher_IgnoresGitDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, ".git", "objects", "keep"), "")
	b := &batches{}
	startWatcher(t, root, b)

	write(t, filepath.Join(root, ".git", "thumb.png"), "png")
	time.Sleep(300 * time.Millisecond)
	if got := b.snapshot(); len(got) != 0 {
		t.Errorf("unexpected batches %v", got)
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	root := t.TempDir()
	b := &batches{}
	w := startWatcher(t, root, b)

	write(t, filepath.Join(root, "a.jpg"), "1")
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(200 * time.Millisecond)
	if got := b.snapshot(); len(got) != 0 {
		t.Errorf("batches after stop: %v", got)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing root")
	}
}
