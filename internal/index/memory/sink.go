// Package memory provides an in-memory index sink.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/signac-index/internal/document"
)

// Sink stores copies of exported documents keyed by id.
type Sink struct {
	mu    sync.RWMutex
	docs  map[string]document.Document
	bulks int
}

// New returns an empty sink.
func New() *Sink {
	return &Sink{docs: make(map[string]document.Document)}
}

// ReplaceOne implements index.Sink.
func (s *Sink) ReplaceOne(_ context.Context, id string, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = doc.Clone()
	return nil
}

// BulkReplace implements index.BulkSink.
func (s *Sink) BulkReplace(_ context.Context, entries []document.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.docs[e.ID] = e.Doc.Clone()
	}
	s.bulks++
	return nil
}

// Get returns a copy of the document stored under id.
func (s *Sink) Get(id string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc.Clone(), ok
}

// IDs returns the stored ids, sorted.
func (s *Sink) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.docs))
}

// Len returns the number of stored documents.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Bulks returns the number of BulkReplace calls.
func (s *Sink) Bulks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bulks
}
