package crawler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
	"github.com/JakeFAU/signac-index/internal/metrics"
)

var (
	// ErrNilDocument is returned when fetching for a nil document.
	ErrNilDocument = errors.New("fetch: nil document")
	// ErrFetchExhausted is wrapped by FetchError.
	ErrFetchExhausted = errors.New("fetch: grids exhausted")
	// ErrNoPayload is returned by FetchOne when a document has no data.
	ErrNoPayload = errors.New("fetch: no payload")
	// ErrUnknownCrawler is returned when a link names a crawler id the
	// access module no longer exposes.
	ErrUnknownCrawler = errors.New("fetch: unknown crawler id")
	// ErrOutsideRoot is returned when a document points at files or access
	// modules outside the permitted root.
	ErrOutsideRoot = errors.New("fetch: outside the crawl root")
)

// FetchError reports file ids that no grid could provide.
type FetchError struct {
	Missing int
	Total   int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unable to fetch %d/%d file(s) with provided grids", e.Missing, e.Total)
}

// Unwrap returns ErrFetchExhausted.
func (e *FetchError) Unwrap() error { return ErrFetchExhausted }

type fetchConfig struct {
	mode     grid.Mode
	grids    []grid.Grid
	explicit bool
}

// FetchOption configures a fetch.
type FetchOption func(*fetchConfig)

// WithMode sets the open mode. Defaults to grid.ModeText.
func WithMode(mode grid.Mode) FetchOption {
	return func(c *fetchConfig) {
		c.mode = mode
	}
}

// WithGrids sets the grids to fetch from instead of those recorded in the
// document link. Calling it without arguments disables grid fetching.
func WithGrids(grids ...grid.Grid) FetchOption {
	return func(c *fetchConfig) {
		c.grids = append(c.grids, grids...)
		c.explicit = true
	}
}

// Fetcher resolves the payloads of indexed documents, first through the
// access module recorded in the link and then through grids.
type Fetcher struct {
	loader   Loader
	resolver *grid.Resolver
	logger   *zap.Logger
	root     string
	grids    []grid.Grid
	pinned   bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithAllowedRoot confines access modules to root. Links whose crawler root
// lies outside it, or whose module is not a path below that crawler root,
// fail with ErrOutsideRoot.
func WithAllowedRoot(root string) FetcherOption {
	return func(f *Fetcher) {
		f.root = absPath(root)
	}
}

// WithConfiguredGrids makes grids the only grids fetched from when a fetch
// does not pass WithGrids. Grid configurations recorded in links are then
// ignored. Calling it without arguments disables link grids entirely.
func WithConfiguredGrids(grids ...grid.Grid) FetcherOption {
	return func(f *Fetcher) {
		f.grids = append(f.grids, grids...)
		f.pinned = true
	}
}

// NewFetcher returns a fetcher. loader may be nil when documents are only
// fetched from grids; resolver may be nil when grids are always explicit.
func NewFetcher(loader Loader, resolver *grid.Resolver, logger *zap.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{loader: loader, resolver: resolver, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch yields all payloads associated with doc. A document without a link
// yields nothing. If the access module cannot be reached because of a
// filesystem error the grids are tried instead; ids no grid holds end the
// sequence with a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, doc document.Document, opts ...FetchOption) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if doc == nil {
			yield(nil, ErrNilDocument)
			return
		}
		cfg := fetchConfig{mode: grid.ModeText}
		for _, opt := range opts {
			opt(&cfg)
		}
		if err := cfg.mode.Validate(); err != nil {
			yield(nil, err)
			return
		}
		link := doc.Link()
		if link == nil {
			return
		}

		if _, ok := link[document.LinkCrawlerRoot]; ok && f.loader != nil {
			f.logger.Debug("fetching files from the file system")
			stopped, err := f.fetchFromModule(ctx, doc, link, cfg.mode, yield)
			switch {
			case stopped:
				return
			case err == nil:
				return
			case IsFilesystemError(err):
				metrics.ObserveFetch(metrics.SourceModule, metrics.ResultMiss)
				f.logger.Warn("unable to fetch file from file system", zap.Error(err))
			default:
				metrics.ObserveFetch(metrics.SourceModule, metrics.ResultError)
				yield(nil, err)
				return
			}
		}

		grids := cfg.grids
		switch {
		case cfg.explicit:
			// Per-call grids win over everything else.
		case f.pinned:
			grids = f.grids
		default:
			var err error
			grids, err = f.gridsFromLink(ctx, link)
			if err != nil {
				yield(nil, err)
				return
			}
		}
		f.fetchFromGrids(ctx, link, grids, cfg.mode, yield)
	}
}

func (f *Fetcher) fetchFromModule(
	ctx context.Context,
	doc document.Document,
	link map[string]any,
	mode grid.Mode,
	yield func(any, error) bool,
) (bool, error) {
	root, _ := link[document.LinkCrawlerRoot].(string)
	module, _ := link[document.LinkCrawlerModule].(string)
	id, _ := link[document.LinkCrawlerID].(string)
	if err := f.checkModule(root, module); err != nil {
		return false, err
	}

	provider, err := f.loader.Load(ctx, filepath.Join(root, module))
	if err != nil {
		return false, err
	}
	crawlers, err := provider.Crawlers(root)
	if err != nil {
		return false, err
	}
	c, ok := crawlers[id]
	if !ok {
		return false, fmt.Errorf("%w: %q in %s", ErrUnknownCrawler, id, filepath.Join(root, module))
	}
	p, ok := c.(PayloadProvider)
	if !ok {
		return false, fmt.Errorf("crawler %q cannot fetch payloads", id)
	}
	for payload, err := range p.Fetch(ctx, doc, mode) {
		if err != nil {
			return false, err
		}
		metrics.ObserveFetch(metrics.SourceModule, metrics.ResultSuccess)
		if !yield(payload, nil) {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fetcher) checkModule(root, module string) error {
	if f.root == "" {
		return nil
	}
	if !within(f.root, absPath(root)) {
		return fmt.Errorf("%w: crawler root %q", ErrOutsideRoot, root)
	}
	if !filepath.IsLocal(module) {
		return fmt.Errorf("%w: access module %q", ErrOutsideRoot, module)
	}
	return nil
}

// within reports whether target is base or lies below it.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

func (f *Fetcher) gridsFromLink(ctx context.Context, link map[string]any) ([]grid.Grid, error) {
	var grids []grid.Grid
	for _, name := range slices.Sorted(maps.Keys(link)) {
		if !f.resolver.Has(name) {
			continue
		}
		cfg, ok := link[name].(map[string]any)
		if !ok {
			continue
		}
		g, err := f.resolver.FromConfig(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}
	return grids, nil
}

func (f *Fetcher) fetchFromGrids(
	ctx context.Context,
	link map[string]any,
	grids []grid.Grid,
	mode grid.Mode,
	yield func(any, error) bool,
) {
	ids := document.FileIDs(link)
	f.logger.Debug("using grids to fetch files", zap.Int("grids", len(grids)), zap.Int("files", len(ids)))
	missing := 0
	for _, id := range ids {
		found := false
		for _, g := range grids {
			rc, err := g.Get(ctx, id, mode)
			if errors.Is(err, grid.ErrNotFound) {
				metrics.ObserveFetch(metrics.SourceGrid, metrics.ResultMiss)
				continue
			}
			if err != nil {
				metrics.ObserveFetch(metrics.SourceGrid, metrics.ResultError)
				yield(nil, fmt.Errorf("grid %s get %s: %w", g.Name(), id, err))
				return
			}
			metrics.ObserveFetch(metrics.SourceGrid, metrics.ResultSuccess)
			found = true
			if !yield(rc, nil) {
				return
			}
			break
		}
		if !found {
			missing++
		}
	}
	if missing > 0 {
		yield(nil, &FetchError{Missing: missing, Total: len(ids)})
	}
}

// FetchOne returns the first payload of doc, or ErrNoPayload.
func (f *Fetcher) FetchOne(ctx context.Context, doc document.Document, opts ...FetchOption) (any, error) {
	for payload, err := range f.Fetch(ctx, doc, opts...) {
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, ErrNoPayload
}

// Payload pairs a document with one of its payloads.
type Payload struct {
	Doc  document.Document
	Data any
}

// Fetched yields every payload of every document in docs.
func (f *Fetcher) Fetched(ctx context.Context, docs iter.Seq[document.Document], opts ...FetchOption) iter.Seq2[Payload, error] {
	return func(yield func(Payload, error) bool) {
		for doc := range docs {
			for data, err := range f.Fetch(ctx, doc, opts...) {
				if err != nil {
					yield(Payload{Doc: doc}, err)
					return
				}
				if !yield(Payload{Doc: doc, Data: data}, nil) {
					return
				}
			}
		}
	}
}

// IsFilesystemError reports whether err comes from the filesystem, which
// makes a module fetch fall back to grids.
func IsFilesystemError(err error) bool {
	var (
		pathErr    *fs.PathError
		linkErr    *os.LinkError
		syscallErr *os.SyscallError
	)
	return errors.As(err, &pathErr) ||
		errors.As(err, &linkErr) ||
		errors.As(err, &syscallErr) ||
		errors.Is(err, fs.ErrNotExist)
}
