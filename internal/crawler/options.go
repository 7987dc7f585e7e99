package crawler

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/grid"
)

type options struct {
	logger     *zap.Logger
	tags       []string
	processors []Processor
	exclude    []string
	name       string

	// master crawler only
	grids      []grid.Grid
	linkLocal  bool
	descriptor string
}

// Option configures a crawler.
type Option func(*options)

// WithLogger sets the logger. Crawlers log nothing by default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTags attaches tags used by the master crawler's tag filter.
func WithTags(tags ...string) Option {
	return func(o *options) {
		o.tags = append(o.tags, tags...)
	}
}

// WithProcessors appends document processors, applied in order.
func WithProcessors(processors ...Processor) Option {
	return func(o *options) {
		o.processors = append(o.processors, processors...)
	}
}

// WithExclude skips paths matching the given doublestar globs, relative to
// the crawl root.
func WithExclude(globs ...string) Option {
	return func(o *options) {
		o.exclude = append(o.exclude, globs...)
	}
}

// WithName sets the crawler label used in metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLinkLocal controls whether the master crawler links documents to the
// access module that produced them. Defaults to true.
func WithLinkLocal(enabled bool) Option {
	return func(o *options) {
		o.linkLocal = enabled
	}
}

// WithStoreGrids makes the master crawler copy every payload into the grids
// and record them in the document link.
func WithStoreGrids(grids ...grid.Grid) Option {
	return func(o *options) {
		o.grids = append(o.grids, grids...)
	}
}

// WithDescriptor overrides the access module file name the master crawler
// looks for.
func WithDescriptor(name string) Option {
	return func(o *options) {
		if name != "" {
			o.descriptor = name
		}
	}
}

func newOptions(defaultName string, opts []Option) options {
	o := options{
		logger:     zap.NewNop(),
		name:       defaultName,
		linkLocal:  true,
		descriptor: DefaultDescriptor,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
