// Package memory stores grid content in-memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/signac-index/internal/grid"
)

// Name is the backend name recorded in document links.
const Name = "memory"

var (
	storesMu sync.Mutex
	stores   = make(map[string]*store)
)

type store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// BlobStore is a handle on a named in-memory store. Handles opened with the
// same id share content for the lifetime of the process.
type BlobStore struct {
	id    string
	store *store
}

// Open returns a handle on the store called id, creating it on first use.
func Open(id string) *BlobStore {
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[id]
	if !ok {
		s = &store{data: make(map[string][]byte)}
		stores[id] = s
	}
	return &BlobStore{id: id, store: s}
}

// Factory rebuilds a BlobStore from its Config descriptor.
func Factory(_ context.Context, cfg map[string]any) (grid.Grid, error) {
	id, err := grid.StringValue(cfg, "id")
	if err != nil {
		return nil, err
	}
	return Open(id), nil
}

// Name implements grid.Grid.
func (s *BlobStore) Name() string { return Name }

// Config implements grid.Grid.
func (s *BlobStore) Config() map[string]any {
	return map[string]any{"id": s.id}
}

// NewFile implements grid.Grid.
func (s *BlobStore) NewFile(_ context.Context, id string) (io.WriteCloser, error) {
	if s.has(id) {
		return nil, fmt.Errorf("%w: %s", grid.ErrFileExists, id)
	}
	return &writer{store: s.store, id: id}, nil
}

// Get implements grid.Grid.
func (s *BlobStore) Get(_ context.Context, id string, mode grid.Mode) (io.ReadCloser, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	s.store.mu.RLock()
	data, ok := s.store.data[id]
	s.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", grid.ErrNotFound, id)
	}
	if mode == grid.ModeText {
		return grid.TextReader(data)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len returns the number of stored files.
func (s *BlobStore) Len() int {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return len(s.store.data)
}

func (s *BlobStore) has(id string) bool {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	_, ok := s.store.data[id]
	return ok
}

type writer struct {
	bytes.Buffer
	store  *store
	id     string
	closed bool
}

// Close commits the buffered content.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if _, ok := w.store.data[w.id]; ok {
		return fmt.Errorf("%w: %s", grid.ErrFileExists, w.id)
	}
	w.store.data[w.id] = append([]byte(nil), w.Bytes()...)
	return nil
}
