package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/signac-index/internal/grid"
)

type fakeObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: make(map[string][]byte)}
}

func (f *fakeObjects) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[name]
	return ok, nil
}

func (f *fakeObjects) NewWriter(_ context.Context, name string) io.WriteCloser {
	return &fakeWriter{objects: f, name: name}
}

func (f *fakeObjects) NewReader(_ context.Context, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeWriter struct {
	bytes.Buffer
	objects *fakeObjects
	name    string
}

func (w *fakeWriter) Close() error {
	w.objects.mu.Lock()
	defer w.objects.mu.Unlock()
	if _, ok := w.objects.data[w.name]; ok {
		return &googleapi.Error{Code: http.StatusPreconditionFailed}
	}
	w.objects.data[w.name] = w.Bytes()
	return nil
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	store := &BlobStore{cfg: Config{Bucket: "b", Prefix: "grid"}, objects: objects}

	w, err := store.NewFile(context.Background(), "abc")
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Contains(t, objects.data, "grid/abc")

	_, err = store.NewFile(context.Background(), "abc")
	require.ErrorIs(t, err, grid.ErrFileExists)

	rc, err := store.Get(context.Background(), "abc", grid.ModeText)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = store.Get(context.Background(), "missing", grid.ModeBinary)
	require.ErrorIs(t, err, grid.ErrNotFound)
}

func TestBlobStorePreconditionFailureIsFileExists(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	store := &BlobStore{cfg: Config{Bucket: "b"}, objects: objects}

	w1, err := store.NewFile(context.Background(), "abc")
	require.NoError(t, err)
	w2, err := store.NewFile(context.Background(), "abc")
	require.NoError(t, err)
	require.NoError(t, w1.Close())
	require.ErrorIs(t, w2.Close(), grid.ErrFileExists)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	store := &BlobStore{cfg: Config{Bucket: "b", Prefix: "p", Endpoint: "http://localhost:1"}}
	assert.Equal(t, map[string]any{
		"bucket":   "b",
		"prefix":   "p",
		"endpoint": "http://localhost:1",
	}, store.Config())

	_, err := Factory(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

// TestNewFileUploadsWithPrecondition drives the real client against a fake
// JSON API server.
func TestNewFileUploadsWithPrecondition(t *testing.T) {
	const bucketName = "test-bucket"
	var uploaded []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/upload/") {
			// Metadata lookups: the object does not exist yet.
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"error": {"code": 404, "message": "Not Found"}}`)
			return
		}
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/b/%s/o", bucketName))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploaded = body
		fmt.Fprintln(w, `{"name": "abc", "bucket": "`+bucketName+`"}`)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: bucketName})
	require.NoError(t, err)

	w, err := store.NewFile(context.Background(), "abc")
	require.NoError(t, err)
	_, err = io.WriteString(w, "test-data")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Contains(t, string(uploaded), "test-data")
}
