// Package app wires configuration into the long-lived indexing services:
// the master crawler, its grids, the fetcher, the index sink, and the export
// notifier.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/config"
	"github.com/JakeFAU/signac-index/internal/convert"
	"github.com/JakeFAU/signac-index/internal/crawler"
	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
	"github.com/JakeFAU/signac-index/internal/grid/gcs"
	"github.com/JakeFAU/signac-index/internal/grid/local"
	"github.com/JakeFAU/signac-index/internal/grid/memory"
	"github.com/JakeFAU/signac-index/internal/index"
	memorysink "github.com/JakeFAU/signac-index/internal/index/memory"
	"github.com/JakeFAU/signac-index/internal/index/postgres"
	"github.com/JakeFAU/signac-index/internal/index/sqlite"
	"github.com/JakeFAU/signac-index/internal/metrics"
	"github.com/JakeFAU/signac-index/internal/notify"
	memorypublisher "github.com/JakeFAU/signac-index/internal/notify/memory"
	pubsubpublisher "github.com/JakeFAU/signac-index/internal/notify/pubsub"
	"github.com/JakeFAU/signac-index/internal/plugin"
)

// App holds the shared services built from one Config.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	resolver *grid.Resolver
	grids    []grid.Grid
	table    *plugin.Table
	master   *crawler.MasterCrawler
	fetcher  *crawler.Fetcher
	sink     index.BulkSink
	notifier *notify.Notifier
	closers  []func() error
}

type options struct {
	table     *plugin.Table
	publisher notify.Publisher
	sink      index.BulkSink
}

// Option customizes New.
type Option func(*options)

// WithTable supplies pre-bound access module providers. They take precedence
// over YAML descriptors.
func WithTable(t *plugin.Table) Option {
	return func(o *options) { o.table = t }
}

// WithPublisher overrides the publisher selected by notify.kind.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithSink overrides the sink selected by sink.kind.
func WithSink(s index.BulkSink) Option {
	return func(o *options) { o.sink = s }
}

// NewResolver returns a grid resolver knowing every built-in backend.
func NewResolver() *grid.Resolver {
	r := grid.NewResolver()
	r.Register(memory.Name, memory.Factory)
	r.Register(local.Name, local.Factory)
	r.Register(gcs.Name, gcs.Factory)
	return r
}

// New builds an App. It fails fast when a configured backend cannot be
// initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()
	convert.Default.SetLogger(logger.Named("convert"))

	a := &App{cfg: cfg, logger: logger, resolver: NewResolver(), table: o.table}
	if a.table == nil {
		a.table = plugin.NewTable(cfg.Crawl.Root)
	}

	grids, err := a.buildGrids(ctx)
	if err != nil {
		return nil, err
	}
	a.grids = grids

	loader := plugin.Chain{a.table, plugin.NewDescriptor(logger.Named("descriptor"))}
	a.master = crawler.NewMasterCrawler(cfg.Crawl.Root, loader,
		crawler.WithLogger(logger.Named("master")),
		crawler.WithTags(cfg.Crawl.Tags...),
		crawler.WithExclude(cfg.Crawl.Exclude...),
		crawler.WithLinkLocal(cfg.Crawl.LinkLocal),
		crawler.WithDescriptor(cfg.Crawl.Descriptor),
		crawler.WithStoreGrids(grids...),
	)
	a.fetcher = crawler.NewFetcher(loader, a.resolver, logger.Named("fetch"),
		crawler.WithAllowedRoot(cfg.Crawl.Root),
		crawler.WithConfiguredGrids(grids...),
	)

	a.sink = o.sink
	if a.sink == nil {
		if a.sink, err = a.buildSink(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	pub := o.publisher
	if pub == nil {
		if pub, err = a.buildPublisher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.notifier = notify.New(pub, cfg.Notify.Topic)

	logger.Info("application services initialized",
		zap.String("root", cfg.Crawl.Root),
		zap.Int("grids", len(grids)),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("notify", cfg.Notify.Kind),
	)
	return a, nil
}

func (a *App) buildGrids(ctx context.Context) ([]grid.Grid, error) {
	grids := make([]grid.Grid, 0, len(a.cfg.Grids))
	for _, gc := range a.cfg.Grids {
		g, err := a.resolver.FromConfig(ctx, gc.Name, gc.Config)
		if err != nil {
			return nil, fmt.Errorf("init grid %s: %w", gc.Name, err)
		}
		a.logger.Info("using grid", zap.String("name", gc.Name))
		grids = append(grids, g)
	}
	return grids, nil
}

func (a *App) buildSink(ctx context.Context) (index.BulkSink, error) {
	switch a.cfg.Sink.Kind {
	case config.SinkMemory:
		return memorysink.New(), nil
	case config.SinkNone:
		return discard{}, nil
	case config.SinkSQLite:
		s, err := sqlite.Open(ctx, a.cfg.Sink.DSN, a.cfg.Sink.Table)
		if err != nil {
			return nil, fmt.Errorf("init sqlite sink: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.SinkPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Sink.DSN, Table: a.cfg.Sink.Table})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink kind: %s", a.cfg.Sink.Kind)
	}
}

func (a *App) buildPublisher(ctx context.Context) (notify.Publisher, error) {
	switch a.cfg.Notify.Kind {
	case config.NotifyNone, "":
		return nil, nil
	case config.NotifyMemory:
		return memorypublisher.New(), nil
	case config.NotifyPubSub:
		a.logger.Info("connecting to Pub/Sub", zap.String("topic", a.cfg.Notify.Topic))
		p, err := pubsubpublisher.Dial(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown notify kind: %s", a.cfg.Notify.Kind)
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Master returns the master crawler over crawl.root.
func (a *App) Master() *crawler.MasterCrawler { return a.master }

// Fetcher returns the payload fetcher.
func (a *App) Fetcher() *crawler.Fetcher { return a.fetcher }

// Grids returns the grids built from the configuration.
func (a *App) Grids() []grid.Grid { return a.grids }

// Table returns the in-process access module bindings.
func (a *App) Table() *plugin.Table { return a.table }

// Sink returns the configured index sink.
func (a *App) Sink() index.BulkSink { return a.sink }

// Crawl runs the master crawl to depth. A negative depth uses crawl.depth.
func (a *App) Crawl(ctx context.Context, depth int) iter.Seq2[document.Entry, error] {
	if depth < 0 {
		depth = a.cfg.Crawl.Depth
	}
	return a.master.Crawl(ctx, depth)
}

// Export pushes the master crawl into the sink and publishes a summary of
// the run. The summary is published even when the export fails.
func (a *App) Export(ctx context.Context) (notify.ExportSummary, error) {
	summary, err := a.notifier.Start(a.cfg.Crawl.Root, a.cfg.Sink.Kind)
	if err != nil {
		return notify.ExportSummary{}, err
	}
	log := a.logger.With(zap.String("run_id", summary.RunID))
	n, exportErr := index.ExportChunked(ctx, a.master, a.sink, a.cfg.Sink.ChunkSize, a.cfg.Crawl.Depth,
		index.WithLogger(log))
	if exportErr != nil {
		log.Error("export failed", zap.Int("documents", n), zap.Error(exportErr))
	}
	msgID, pubErr := a.notifier.Finish(ctx, &summary, n, exportErr)
	if pubErr != nil {
		log.Warn("export notification failed", zap.Error(pubErr))
	} else if msgID != "" {
		log.Info("export notification published", zap.String("message_id", msgID))
	}
	return summary, errors.Join(exportErr, pubErr)
}

// Close releases sinks and publishers. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

type discard struct{}

func (discard) ReplaceOne(context.Context, string, document.Document) error { return nil }

func (discard) BulkReplace(context.Context, []document.Entry) error { return nil }
