package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signac-index/internal/grid"
)

func put(t *testing.T, s *BlobStore, id string, payload []byte) {
	t.Helper()
	w, err := s.NewFile(context.Background(), id)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestBlobStoreCopiesData(t *testing.T) {
	t.Parallel()

	store := Open(t.Name())
	payload := []byte("content")
	put(t, store, "abc", payload)
	payload[0] = 'C'

	rc, err := store.Get(context.Background(), "abc", grid.ModeBinary)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestBlobStoreRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	store := Open(t.Name())
	put(t, store, "abc", []byte("one"))

	_, err := store.NewFile(context.Background(), "abc")
	require.ErrorIs(t, err, grid.ErrFileExists)
	assert.Equal(t, 1, store.Len())
}

func TestBlobStoreSharedByID(t *testing.T) {
	t.Parallel()

	writer := Open(t.Name())
	put(t, writer, "abc", []byte(`{"a": 0}`))

	reader, err := Factory(context.Background(), writer.Config())
	require.NoError(t, err)
	rc, err := reader.Get(context.Background(), "abc", grid.ModeText)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 0}`, string(data))

	other := Open(t.Name() + "-other")
	_, err = other.Get(context.Background(), "abc", grid.ModeBinary)
	require.ErrorIs(t, err, grid.ErrNotFound)
}

func TestFactoryRequiresID(t *testing.T) {
	t.Parallel()

	_, err := Factory(context.Background(), map[string]any{})
	require.Error(t, err)
}
