// Package index exports crawl results into document stores ("sinks").
package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/crawler"
	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/metrics"
)

// DefaultChunkSize is the number of documents ExportChunked buffers per
// bulk write.
const DefaultChunkSize = 1000

// ErrIntegrity is returned when a crawler emits an entry whose id differs
// from the document's _id.
var ErrIntegrity = errors.New("index: document id does not match entry id")

// Sink upserts documents by id.
type Sink interface {
	ReplaceOne(ctx context.Context, id string, doc document.Document) error
}

// BulkSink upserts many documents in one operation.
type BulkSink interface {
	Sink
	BulkReplace(ctx context.Context, entries []document.Entry) error
}

type options struct {
	logger *zap.Logger
}

// Option configures an export.
type Option func(*options)

// WithLogger sets the export logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkEntry(entry document.Entry) error {
	if entry.Doc.ID() != entry.ID {
		return fmt.Errorf("%w: entry %q, document %q", ErrIntegrity, entry.ID, entry.Doc.ID())
	}
	return nil
}

// Export crawls c to depth and upserts every document into sink one at a
// time. It returns the number of documents written.
func Export(ctx context.Context, c crawler.Crawler, sink Sink, depth int, opts ...Option) (int, error) {
	o := newOptions(opts)
	o.logger.Info("exporting index", zap.String("root", c.Root()))
	n := 0
	for entry, err := range c.Crawl(ctx, depth) {
		if err != nil {
			return n, err
		}
		if err := checkEntry(entry); err != nil {
			return n, err
		}
		if err := sink.ReplaceOne(ctx, entry.ID, entry.Doc); err != nil {
			return n, fmt.Errorf("replace %s: %w", entry.ID, err)
		}
		n++
		metrics.ObserveExported(1)
	}
	o.logger.Info("export done", zap.Int("documents", n))
	return n, nil
}

// ExportChunked is Export with bulk writes of up to chunkSize documents.
// A chunkSize <= 0 selects DefaultChunkSize. The final partial chunk is
// always flushed.
func ExportChunked(ctx context.Context, c crawler.Crawler, sink BulkSink, chunkSize, depth int, opts ...Option) (int, error) {
	o := newOptions(opts)
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	o.logger.Info("exporting index in chunks", zap.String("root", c.Root()), zap.Int("chunk_size", chunkSize))
	n := 0
	chunk := make([]document.Entry, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		o.logger.Debug("pushing chunk", zap.Int("documents", len(chunk)))
		if err := sink.BulkReplace(ctx, chunk); err != nil {
			return fmt.Errorf("bulk replace: %w", err)
		}
		n += len(chunk)
		metrics.ObserveExported(len(chunk))
		chunk = make([]document.Entry, 0, chunkSize)
		return nil
	}
	for entry, err := range c.Crawl(ctx, depth) {
		if err != nil {
			return n, err
		}
		if err := checkEntry(entry); err != nil {
			return n, err
		}
		chunk = append(chunk, entry)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	o.logger.Info("export done", zap.Int("documents", n))
	return n, nil
}
