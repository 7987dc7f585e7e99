package crawler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/signac-index/internal/hashing"
)

func newJob(t *testing.T, root string, sp map[string]any) string {
	t.Helper()
	id, err := hashing.CalcID(sp)
	require.NoError(t, err)
	blob, err := json.Marshal(sp)
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, id, DefaultStatepointFilename), string(blob))
	return id
}

func projectDefinitions(t *testing.T) *Definitions {
	t.Helper()
	defs := NewDefinitions(nil)
	require.NoError(t, defs.Define(`.*/data\.txt`, TextFile))
	return defs
}

func TestProjectCrawler(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	id := newJob(t, root, map[string]any{"a": 1})
	writeFile(t, filepath.Join(root, id, "data.txt"), "payload")
	writeFile(t, filepath.Join(root, id, "signac_job_document.json"), `{"b": 2}`)

	c := NewProjectCrawler(root, projectDefinitions(t))
	entries := collect(t, c, 0)
	require.Len(t, entries, 2)

	data := entries[0].Doc
	assert.Equal(t, id, data["signac_id"])
	assert.Equal(t, map[string]any{"a": float64(1)}, data["statepoint"])
	assert.Equal(t, id+"/data.txt", data["filename"])
	assert.NotEqual(t, id, entries[0].ID)

	jobDoc := entries[1].Doc
	assert.Equal(t, id, entries[1].ID)
	assert.Equal(t, id, jobDoc["signac_id"])
	assert.Equal(t, float64(2), jobDoc["b"])

	fetched := 0
	for payload, err := range c.Fetch(context.Background(), data, "r") {
		require.NoError(t, err)
		assert.NotNil(t, payload)
		fetched++
	}
	assert.Equal(t, 1, fetched)
}

func TestStatepointAugmenterMergesWithoutIndex(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	id := newJob(t, root, map[string]any{"a": 1, "b": "x"})

	aug := NewStatepointAugmenter(root)
	aug.Index = ""
	doc, err := aug.Process(map[string]any{"c": true}, filepath.Join(root, id, "nested"), "f")
	require.NoError(t, err)
	assert.Equal(t, id, doc["signac_id"])
	assert.Equal(t, float64(1), doc["a"])
	assert.Equal(t, "x", doc["b"])
	assert.NotContains(t, doc, "statepoint")
}

func TestStatepointAugmenterDetectsMismatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "not-an-id", DefaultStatepointFilename), `{"a": 1}`)

	_, err := NewStatepointAugmenter(root).Process(map[string]any{}, filepath.Join(root, "not-an-id"), "f")
	require.ErrorIs(t, err, ErrStatepointMismatch)
}

func TestMalformedJobDocumentIsFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	id := newJob(t, root, map[string]any{"a": 1})
	writeFile(t, filepath.Join(root, id, "signac_job_document.json"), `{not json`)

	core, logs := observer.New(zap.ErrorLevel)
	c := NewProjectCrawler(root, projectDefinitions(t), WithLogger(zap.New(core)))

	var err error
	for _, err = range c.Crawl(context.Background(), 0) {
		if err != nil {
			break
		}
	}
	require.Error(t, err)

	entries := logs.FilterMessage("failed to load job document").All()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ContextMap()["job"])
}
