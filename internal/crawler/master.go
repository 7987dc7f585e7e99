package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
	"github.com/JakeFAU/signac-index/internal/hashing"
	"github.com/JakeFAU/signac-index/internal/metrics"
)

// DefaultDescriptor is the access module file name the master crawler
// looks for.
const DefaultDescriptor = "signac_access.yaml"

// MasterCrawler walks a data space for access modules and runs the crawlers
// they expose. When the master has tags, only sub-crawlers with a matching
// tag run; untagged sub-crawlers always run.
type MasterCrawler struct {
	*Base
	loader Loader
	opts   options
	hasher *hashing.Hasher
}

// NewMasterCrawler returns a master crawler over root that resolves access
// modules through loader.
func NewMasterCrawler(root string, loader Loader, opts ...Option) *MasterCrawler {
	opts = append([]Option{WithName("master")}, opts...)
	m := &MasterCrawler{
		loader: loader,
		opts:   newOptions("master", opts),
		hasher: hashing.New(),
	}
	m.Base = NewBase(root, masterSource{m}, opts...)
	return m
}

// Descriptor returns the access module file name.
func (m *MasterCrawler) Descriptor() string { return m.opts.descriptor }

type masterSource struct {
	m *MasterCrawler
}

func (s masterSource) DocsFromFile(ctx context.Context, dir, name string) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		if name != s.m.opts.descriptor {
			return
		}
		path := filepath.Join(dir, name)
		logger := s.m.opts.logger.With(zap.String("path", path))
		err := s.m.docsFromModule(ctx, dir, name, logger, yield)
		switch {
		case errors.Is(err, errStopped):
		case err == nil:
			logger.Debug("executed access module crawlers")
		case errors.Is(err, ErrNoEntryPoint):
			metrics.ObserveAccessModuleError("no_entry_point")
			logger.Warn("access module has no crawlers", zap.Error(err))
		default:
			metrics.ObserveAccessModuleError("crawl")
			logger.Error("error while indexing from access module", zap.Error(err))
			yield(nil, fmt.Errorf("access module %s: %w", path, err))
		}
	}
}

// errStopped signals that the consumer stopped iterating.
var errStopped = errors.New("iteration stopped")

func (m *MasterCrawler) docsFromModule(
	ctx context.Context,
	dir, name string,
	logger *zap.Logger,
	yield func(document.Document, error) bool,
) error {
	provider, err := m.loader.Load(ctx, filepath.Join(dir, name))
	if err != nil {
		return err
	}
	crawlers, err := provider.Crawlers(dir)
	if err != nil {
		return err
	}
	project, err := filepath.Rel(m.Root(), dir)
	if err != nil {
		return fmt.Errorf("project path: %w", err)
	}
	project = filepath.ToSlash(project)

	for _, id := range slices.Sorted(maps.Keys(crawlers)) {
		sub := crawlers[id]
		if !m.tagsAllow(sub) {
			logger.Info("skipping crawler, tag mismatch", zap.String("crawler_id", id))
			continue
		}
		provider, canFetch := sub.(PayloadProvider)
		for entry, err := range sub.Crawl(ctx, 0) {
			if err != nil {
				return fmt.Errorf("crawler %s: %w", id, err)
			}
			doc := entry.Doc
			doc.SetDefault(document.KeyProject, project)
			if canFetch {
				if m.opts.linkLocal {
					link := doc.EnsureLink()
					link[document.LinkCrawlerRoot] = absPath(dir)
					link[document.LinkCrawlerModule] = name
					link[document.LinkCrawlerID] = id
				}
				for _, g := range m.opts.grids {
					if err := m.storeToGrid(ctx, g, provider, doc); err != nil {
						return err
					}
				}
			}
			if !yield(doc, nil) {
				return errStopped
			}
		}
	}
	return nil
}

func (m *MasterCrawler) tagsAllow(c Crawler) bool {
	tagged, ok := c.(Tagged)
	if !ok {
		return true
	}
	tags := tagged.Tags()
	if len(tags) == 0 {
		return true
	}
	for _, want := range m.opts.tags {
		if slices.Contains(tags, want) {
			return true
		}
	}
	return false
}

func (m *MasterCrawler) storeToGrid(ctx context.Context, g grid.Grid, p PayloadProvider, doc document.Document) error {
	link := doc.EnsureLink()
	link[g.Name()] = g.Config()
	if _, ok := link[document.LinkFileIDs]; !ok {
		link[document.LinkFileIDs] = []string{}
	}
	for payload, err := range p.Fetch(ctx, doc, grid.ModeBinary) {
		if err != nil {
			return fmt.Errorf("fetch for grid %s: %w", g.Name(), err)
		}
		data, err := payloadBytes(payload)
		if err != nil {
			return err
		}
		fileID, err := m.hasher.Hash(data)
		if err != nil {
			return err
		}
		if err := writeGridFile(ctx, g, fileID, data); err != nil {
			return err
		}
		document.AddFileID(link, fileID)
	}
	return nil
}

func writeGridFile(ctx context.Context, g grid.Grid, fileID string, data []byte) error {
	w, err := g.NewFile(ctx, fileID)
	if errors.Is(err, grid.ErrFileExists) {
		metrics.ObserveGridWrite(g.Name(), metrics.ResultExists)
		return nil
	}
	if err != nil {
		metrics.ObserveGridWrite(g.Name(), metrics.ResultError)
		return fmt.Errorf("grid %s new file %s: %w", g.Name(), fileID, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		metrics.ObserveGridWrite(g.Name(), metrics.ResultError)
		return fmt.Errorf("grid %s write %s: %w", g.Name(), fileID, err)
	}
	err = w.Close()
	switch {
	case errors.Is(err, grid.ErrFileExists):
		metrics.ObserveGridWrite(g.Name(), metrics.ResultExists)
		return nil
	case err != nil:
		metrics.ObserveGridWrite(g.Name(), metrics.ResultError)
		return fmt.Errorf("grid %s close %s: %w", g.Name(), fileID, err)
	}
	metrics.ObserveGridWrite(g.Name(), metrics.ResultSuccess)
	return nil
}

// payloadBytes reads a fetched payload. Readers are drained and closed;
// decoded values are stored as canonical JSON.
func payloadBytes(payload any) ([]byte, error) {
	data, ok, err := readAll(payload)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if ok {
		return data, nil
	}
	if c, isCloser := payload.(io.Closer); isCloser {
		defer c.Close() //nolint:errcheck // read-only
	}
	return hashing.Canonical(payload)
}
