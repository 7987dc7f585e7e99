// Package walk implements the bounded-depth directory traversal used by the
// crawlers.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidDepth is returned for negative depths.
var ErrInvalidDepth = errors.New("walk: depth must be >= 0")

// Dir is one visited directory.
type Dir struct {
	// Path is the directory path, rooted at the walk root.
	Path string
	// Rel is Path relative to the walk root in slash form ("." for the root).
	Rel string
	// Files holds the names of the non-directory entries, sorted.
	Files []string
}

type walker struct {
	ctx     context.Context
	depth   int
	exclude []string
}

// Walk visits root and its subdirectories top-down in lexical order. A depth
// of 0 means unlimited, 1 visits only root. Entries whose root-relative slash
// path matches one of the exclude globs (doublestar syntax) are skipped, and
// excluded directories are not descended into.
//
// The sequence is lazy: nothing is read until the caller pulls, and stopping
// iteration stops the walk. The first error ends the sequence.
func Walk(ctx context.Context, root string, depth int, exclude ...string) iter.Seq2[Dir, error] {
	return func(yield func(Dir, error) bool) {
		if depth < 0 {
			yield(Dir{}, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth))
			return
		}
		for _, pattern := range exclude {
			if !doublestar.ValidatePattern(pattern) {
				yield(Dir{}, fmt.Errorf("walk: invalid exclude pattern %q", pattern))
				return
			}
		}
		w := walker{ctx: ctx, depth: depth, exclude: exclude}
		w.walk(filepath.Clean(root), ".", 1, yield)
	}
}

func (w *walker) walk(dir, rel string, level int, yield func(Dir, error) bool) bool {
	if err := w.ctx.Err(); err != nil {
		yield(Dir{}, err)
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		yield(Dir{}, fmt.Errorf("read dir %s: %w", dir, err))
		return false
	}
	var files, subdirs []string
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		if w.excluded(childRel) {
			continue
		}
		isDir, err := entryIsDir(dir, entry)
		if err != nil {
			yield(Dir{}, err)
			return false
		}
		switch {
		case isDir && entry.Type()&fs.ModeSymlink != 0:
			// Symlinked directories are listed by neither side and not followed.
		case isDir:
			subdirs = append(subdirs, entry.Name())
		default:
			files = append(files, entry.Name())
		}
	}
	if !yield(Dir{Path: dir, Rel: rel, Files: files}, nil) {
		return false
	}
	if w.depth > 0 && level >= w.depth {
		return true
	}
	for _, name := range subdirs {
		if !w.walk(filepath.Join(dir, name), path.Join(rel, name), level+1, yield) {
			return false
		}
	}
	return true
}

func (w *walker) excluded(rel string) bool {
	for _, pattern := range w.exclude {
		// Patterns were validated up front, so Match cannot fail here.
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func entryIsDir(dir string, entry fs.DirEntry) (bool, error) {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir(), nil
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Dangling symlink: report it as a file like any other entry.
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", entry.Name(), err)
	}
	return info.IsDir(), nil
}
