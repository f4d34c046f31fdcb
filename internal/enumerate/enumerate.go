// Package enumerate lists the image files of a tracked collection.
package enumerate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ErrRootNotFound is returned when the tracked root does not exist.
var ErrRootNotFound = errors.New("tracked root not found")

// ImageExtensions are the recognized image extensions, lowercase without the dot.
var ImageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}

// Lister lists image paths relative to a tracked root, sorted ascending.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// IsImage reports whether name has a recognized image extension (case-insensitive).
func IsImage(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Dir lists images from a directory on disk.
type Dir struct {
	Root string
	// RespectGitignore skips paths matched by the root's .gitignore.
	RespectGitignore bool
}

// List implements Lister.
func (d Dir) List(ctx context.Context) ([]string, error) {
	return Images(ctx, d.Root, d.RespectGitignore)
}

// Images walks root recursively and returns every image file as a slash-separated
// path relative to root, sorted ascending. The .git directory is never entered.
func Images(ctx context.Context, root string, respectGitignore bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	var gi *ignore.GitIgnore
	if respectGitignore {
		gi = loadGitignore(root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsImage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
