package crawler

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/hashing"
	"github.com/JakeFAU/signac-index/internal/metrics"
	"github.com/JakeFAU/signac-index/internal/walk"
)

// Base walks a root directory and turns every file into documents through a
// DocumentSource.
type Base struct {
	root   string
	source DocumentSource
	opts   options
}

// NewBase returns a crawler over root that reads documents from source.
func NewBase(root string, source DocumentSource, opts ...Option) *Base {
	return &Base{root: root, source: source, opts: newOptions("base", opts)}
}

// Root returns the crawl root.
func (b *Base) Root() string { return b.root }

// Tags returns the crawler's tags.
func (b *Base) Tags() []string { return slices.Clone(b.opts.tags) }

// Crawl walks the root up to depth levels (0 is unlimited) and yields one
// entry per document. Every call starts a fresh walk.
func (b *Base) Crawl(ctx context.Context, depth int) iter.Seq2[document.Entry, error] {
	return func(yield func(document.Entry, error) bool) {
		logger := b.opts.logger.With(zap.String("root", b.root), zap.Int("depth", depth))
		logger.Info("crawl started")
		for dir, err := range walk.Walk(ctx, b.root, depth, b.opts.exclude...) {
			if err != nil {
				yield(document.Entry{}, err)
				return
			}
			for _, name := range dir.Files {
				for doc, err := range b.source.DocsFromFile(ctx, dir.Path, name) {
					if err != nil {
						yield(document.Entry{}, err)
						return
					}
					logger.Debug("doc from file", zap.String("path", filepath.Join(dir.Path, name)))
					entry, err := b.finish(doc, dir, name)
					if err != nil {
						yield(document.Entry{}, err)
						return
					}
					metrics.ObserveDocument(b.opts.name)
					if !yield(entry, nil) {
						return
					}
				}
			}
		}
		logger.Info("crawl done")
	}
}

func (b *Base) finish(doc document.Document, dir walk.Dir, name string) (document.Entry, error) {
	var err error
	for _, p := range b.opts.processors {
		doc, err = p.Process(doc, dir.Path, name)
		if err != nil {
			return document.Entry{}, fmt.Errorf("process %s: %w", filepath.Join(dir.Path, name), err)
		}
	}
	if doc == nil {
		doc = document.Document{}
	}
	doc.SetDefault(document.KeyFormat, nil)
	if id := doc.ID(); id != "" {
		return document.Entry{ID: id, Doc: doc}, nil
	}
	id, err := hashing.DocumentID(dir.Rel, name, doc)
	if err != nil {
		return document.Entry{}, fmt.Errorf("document id for %s: %w", filepath.Join(dir.Path, name), err)
	}
	doc[document.KeyID] = id
	return document.Entry{ID: id, Doc: doc}, nil
}
