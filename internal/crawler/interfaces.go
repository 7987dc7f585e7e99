package crawler

import (
	"context"
	"errors"
	"iter"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
)

// ErrNoEntryPoint is returned by a Loader when an access module exists but
// exposes no crawlers. The master crawler treats it as a soft failure.
var ErrNoEntryPoint = errors.New("access module has no crawler entry point")

// DocumentSource turns a single file into zero or more raw documents.
type DocumentSource interface {
	DocsFromFile(ctx context.Context, dir, name string) iter.Seq2[document.Document, error]
}

// Processor post-processes a raw document produced for dir/name.
type Processor interface {
	Process(doc document.Document, dir, name string) (document.Document, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(doc document.Document, dir, name string) (document.Document, error)

// Process implements Processor.
func (f ProcessorFunc) Process(doc document.Document, dir, name string) (document.Document, error) {
	return f(doc, dir, name)
}

// PayloadProvider retrieves the data associated with a document it produced.
// Values that implement io.Closer are owned by the caller.
type PayloadProvider interface {
	Fetch(ctx context.Context, doc document.Document, mode grid.Mode) iter.Seq2[any, error]
}

// Tagged is implemented by crawlers that carry tags.
type Tagged interface {
	Tags() []string
}

// Crawler produces (id, document) entries for a data space.
type Crawler interface {
	Root() string
	Crawl(ctx context.Context, depth int) iter.Seq2[document.Entry, error]
}

// Provider exposes the crawlers of one access module, keyed by crawler id.
// dir is the directory containing the module.
type Provider interface {
	Crawlers(dir string) (map[string]Crawler, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(dir string) (map[string]Crawler, error)

// Crawlers implements Provider.
func (f ProviderFunc) Crawlers(dir string) (map[string]Crawler, error) {
	return f(dir)
}

// Loader resolves an access module file to a Provider.
type Loader interface {
	Load(ctx context.Context, path string) (Provider, error)
}
