// Package local implements a grid on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/JakeFAU/signac-index/internal/grid"
)

// Name is the backend name recorded in document links.
const Name = "local"

const lockName = ".grid.lock"

// Config captures the parameters for the local filesystem grid.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore stores each file under BaseDir/<id[:2]>/<id>. Commits are
// serialized through a flock on BaseDir/.grid.lock, so several processes may
// share one directory.
type BlobStore struct {
	baseDir string
	mu      sync.Mutex
	lock    *flock.Flock
}

// New creates a new local filesystem-backed grid.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	baseDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: baseDir,
		lock:    flock.New(filepath.Join(baseDir, lockName)),
	}, nil
}

// Factory rebuilds a BlobStore from its Config descriptor.
func Factory(_ context.Context, cfg map[string]any) (grid.Grid, error) {
	baseDir, err := grid.StringValue(cfg, "base_dir")
	if err != nil {
		return nil, err
	}
	return New(Config{BaseDir: baseDir})
}

// Name implements grid.Grid.
func (s *BlobStore) Name() string { return Name }

// Config implements grid.Grid.
func (s *BlobStore) Config() map[string]any {
	return map[string]any{"base_dir": s.baseDir}
}

// NewFile implements grid.Grid.
func (s *BlobStore) NewFile(_ context.Context, id string) (io.WriteCloser, error) {
	target, err := s.path(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: %s", grid.ErrFileExists, id)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &writer{File: tmp, store: s, id: id, target: target}, nil
}

// Get implements grid.Grid.
func (s *BlobStore) Get(_ context.Context, id string, mode grid.Mode) (io.ReadCloser, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	target, err := s.path(id)
	if err != nil {
		return nil, err
	}
	if mode == grid.ModeText {
		data, err := os.ReadFile(target) // #nosec G304 -- path is confined to baseDir.
		if err != nil {
			return nil, s.readErr(id, err)
		}
		return grid.TextReader(data)
	}
	f, err := os.Open(target) // #nosec G304 -- path is confined to baseDir.
	if err != nil {
		return nil, s.readErr(id, err)
	}
	return f, nil
}

func (s *BlobStore) readErr(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", grid.ErrNotFound, id)
	}
	return fmt.Errorf("read %s: %w", id, err)
}

func (s *BlobStore) path(id string) (string, error) {
	if len(id) < 3 || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid file id %q", id)
	}
	fullPath := filepath.Join(s.baseDir, id[:2], id)

	// Clean the path and verify it's within baseDir to prevent path traversal.
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

type writer struct {
	*os.File
	store  *BlobStore
	id     string
	target string
	closed bool
}

// Close moves the temp file into place unless another writer got there first.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	tmp := w.File.Name()
	if err := w.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if err := w.store.lock.Lock(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("lock grid: %w", err)
	}
	defer w.store.lock.Unlock() //nolint:errcheck // released on close of the fd either way
	if _, err := os.Stat(w.target); err == nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s", grid.ErrFileExists, w.id)
	}
	if err := os.Rename(tmp, w.target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", w.id, err)
	}
	return nil
}
