// Package grid defines content-addressed blob stores ("grids") that crawl
// payloads can be persisted to and fetched back from.
//
// A grid is keyed by content hash, so writing the same id twice is a no-op by
// contract: NewFile reports ErrFileExists and callers ignore it. Grids do not
// lock across goroutines unless a backend says otherwise.
package grid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	// ErrFileExists is returned by NewFile when the id is already stored.
	ErrFileExists = errors.New("grid: file exists")
	// ErrNotFound is returned by Get when the id is not stored.
	ErrNotFound = errors.New("grid: file not found")
	// ErrUnknownBackend is returned by a Resolver for unregistered names.
	ErrUnknownBackend = errors.New("grid: unknown backend")
)

// Mode selects how a payload is opened.
type Mode string

// Supported modes.
const (
	ModeText   Mode = "r"
	ModeBinary Mode = "rb"
)

// Validate rejects unknown modes.
func (m Mode) Validate() error {
	switch m {
	case ModeText, ModeBinary:
		return nil
	default:
		return fmt.Errorf("grid: invalid mode %q", string(m))
	}
}

// Grid is a content-addressed blob store.
type Grid interface {
	// Name identifies the backend; it keys the grid's block in a document link.
	Name() string
	// Config returns a JSON-compatible descriptor that Resolver.FromConfig can
	// turn back into an equivalent grid.
	Config() map[string]any
	// NewFile opens a writer for id. The content becomes visible on Close.
	NewFile(ctx context.Context, id string) (io.WriteCloser, error)
	// Get opens the content stored under id.
	Get(ctx context.Context, id string, mode Mode) (io.ReadCloser, error)
}

// Factory builds a grid from its Config descriptor.
type Factory func(ctx context.Context, cfg map[string]any) (Grid, error)

// Resolver maps backend names to factories.
type Resolver struct {
	factories map[string]Factory
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{factories: make(map[string]Factory)}
}

// Register binds name to factory, replacing any previous binding.
func (r *Resolver) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Has reports whether name is registered.
func (r *Resolver) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[name]
	return ok
}

// FromConfig builds the named backend from cfg.
func (r *Resolver) FromConfig(ctx context.Context, name string, cfg map[string]any) (Grid, error) {
	if !r.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	g, err := r.factories[name](ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("grid %s from config: %w", name, err)
	}
	return g, nil
}

// TextReader decodes a binary payload for ModeText reads: the content must be
// valid UTF-8.
func TextReader(data []byte) (io.ReadCloser, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("grid: payload is not valid UTF-8 text")
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

// StringValue reads a string field from a config descriptor.
func StringValue(cfg map[string]any, key string) (string, error) {
	raw, ok := cfg[key]
	if !ok {
		return "", fmt.Errorf("grid config: %q is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("grid config: %q must be a string, got %T", key, raw)
	}
	return s, nil
}
