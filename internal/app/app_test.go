package app_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/app"
	"github.com/JakeFAU/signac-index/internal/config"
	"github.com/JakeFAU/signac-index/internal/crawler"
	"github.com/JakeFAU/signac-index/internal/document"
	memorysink "github.com/JakeFAU/signac-index/internal/index/memory"
	"github.com/JakeFAU/signac-index/internal/index/sqlite"
	"github.com/JakeFAU/signac-index/internal/notify"
	memorypublisher "github.com/JakeFAU/signac-index/internal/notify/memory"
)

const accessModule = `
crawlers:
  main:
    type: regex
    definitions:
      - pattern: '.*/a_(?P<a>\d+)\.txt'
        format: text
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "signac_access.yaml"), accessModule)
	writeFile(t, filepath.Join(root, "proj", "a_1.txt"), "one")
	writeFile(t, filepath.Join(root, "proj", "a_2.txt"), "two")
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Crawl:   config.CrawlConfig{Root: root, LinkLocal: true, Descriptor: "signac_access.yaml"},
		Sink:    config.SinkConfig{Kind: config.SinkMemory, ChunkSize: 1},
		Notify:  config.NotifyConfig{Kind: config.NotifyNone, Topic: "exports"},
		Logging: config.LoggingConfig{Development: true},
	}
}

func TestNewAppCrawlsConfiguredRoot(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	var docs []document.Document
	for entry, err := range a.Crawl(context.Background(), -1) {
		require.NoError(t, err)
		docs = append(docs, entry.Doc)
	}
	require.Len(t, docs, 2)
	assert.Equal(t, "proj", docs[0]["project"])

	payload, err := a.Fetcher().FetchOne(context.Background(), docs[1])
	require.NoError(t, err)
	rc, ok := payload.(io.ReadCloser)
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestExportPublishesSummary(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	sink := memorysink.New()
	pub := memorypublisher.New()
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithSink(sink), app.WithPublisher(pub))
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.FinishedAt.IsZero())
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, 2, sink.Bulks())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "exports", msgs[0].Topic)
	published, ok := msgs[0].Payload.(notify.ExportSummary)
	require.True(t, ok)
	assert.Equal(t, summary.RunID, published.RunID)
	assert.Empty(t, published.Error)
}

func TestExportFailureIsPublished(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	writeFile(t, filepath.Join(cfg.Crawl.Root, "broken", "signac_access.yaml"), "crawlers: [not, a, map]\n")
	pub := memorypublisher.New()
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithPublisher(pub))
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Export(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, summary.Error)
	require.Len(t, pub.Messages(), 1)
}

func TestNewAppSQLiteSink(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Sink = config.SinkConfig{
		Kind:      config.SinkSQLite,
		DSN:       "file:" + filepath.Join(t.TempDir(), "index.db"),
		Table:     "docs",
		ChunkSize: 10,
	}
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Export(context.Background())
	require.NoError(t, err)
	s, ok := a.Sink().(*sqlite.Sink)
	require.True(t, ok)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewAppGridErrors(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Grids = []config.GridConfig{{Name: "ftp", Config: map[string]any{}}}
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init grid ftp")
}

func TestNewAppStoresToMemoryGrid(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Grids = []config.GridConfig{{Name: "memory", Config: map[string]any{"id": t.Name()}}}
	cfg.Sink.Kind = config.SinkNone
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	for entry, err := range a.Crawl(context.Background(), 0) {
		require.NoError(t, err)
		assert.Len(t, document.FileIDs(entry.Doc.Link()), 1)
	}
	summary, err := a.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
}

func TestNewAppUnknownSink(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Sink.Kind = "mongo"
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink kind")
}

func TestAppFetcherStaysWithinConfiguration(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t)
	cfg.Sink.Kind = config.SinkNone
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.Grids())

	var docs []document.Document
	for entry, err := range a.Crawl(context.Background(), -1) {
		require.NoError(t, err)
		docs = append(docs, entry.Doc)
	}
	require.NotEmpty(t, docs)
	ctx := context.Background()

	foreign := t.TempDir()
	writeFile(t, filepath.Join(foreign, "signac_access.yaml"), accessModule)
	writeFile(t, filepath.Join(foreign, "a_9.txt"), "foreign")
	outside := docs[0].Clone()
	outside.Link()[document.LinkCrawlerRoot] = foreign
	outside["filename"] = "a_9.txt"
	_, err = a.Fetcher().FetchOne(ctx, outside)
	require.ErrorIs(t, err, crawler.ErrOutsideRoot)

	planted := filepath.Join(t.TempDir(), "planted")
	gridOnly := document.Document{
		"_id": "x",
		"signac_link": map[string]any{
			document.LinkFileIDs: []any{"abc"},
			"local":              map[string]any{"base_dir": planted},
		},
	}
	_, err = a.Fetcher().FetchOne(ctx, gridOnly)
	require.ErrorIs(t, err, crawler.ErrFetchExhausted)
	assert.NoDirExists(t, planted)
}
