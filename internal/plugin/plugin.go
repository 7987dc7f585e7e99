// Package plugin provides the loaders that turn access module files into
// crawler providers. No code is loaded at runtime: providers are either bound
// ahead of time in a Table or described declaratively in a YAML descriptor.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/signac-index/internal/crawler"
)

// Table is a Loader backed by pre-resolved providers keyed by module path.
type Table struct {
	mu        sync.RWMutex
	root      string
	providers map[string]crawler.Provider
}

// NewTable returns an empty table. Relative locations passed to Bind are
// resolved against root.
func NewTable(root string) *Table {
	return &Table{root: root, providers: make(map[string]crawler.Provider)}
}

// Bind registers provider for the module file at location.
func (t *Table) Bind(location string, provider crawler.Provider) {
	key := t.key(location)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[key] = provider
}

// Load implements crawler.Loader. The module file must exist.
func (t *Table) Load(_ context.Context, path string) (crawler.Provider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("load access module: %w", err)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.providers[t.key(path)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", crawler.ErrNoEntryPoint, path)
}

func (t *Table) key(location string) string {
	if !filepath.IsAbs(location) && t.root != "" {
		location = filepath.Join(t.root, location)
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return filepath.Clean(location)
	}
	return abs
}

// Chain tries each loader in order, moving on only when a loader reports
// crawler.ErrNoEntryPoint.
type Chain []crawler.Loader

// Load implements crawler.Loader.
func (c Chain) Load(ctx context.Context, path string) (crawler.Provider, error) {
	err := fmt.Errorf("%w: %s", crawler.ErrNoEntryPoint, path)
	for _, loader := range c {
		var p crawler.Provider
		p, err = loader.Load(ctx, path)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, crawler.ErrNoEntryPoint) {
			return nil, err
		}
	}
	return nil, err
}
