package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signac-index/internal/document"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func collect(t *testing.T, c Crawler, depth int) []document.Entry {
	t.Helper()
	var out []document.Entry
	for entry, err := range c.Crawl(context.Background(), depth) {
		require.NoError(t, err)
		out = append(out, entry)
	}
	return out
}
