// Package gcs provides a grid backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/signac-index/internal/grid"
)

// Name is the backend name recorded in document links.
const Name = "gcs"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// Endpoint overrides the API endpoint (emulators, tests). Requests to a
	// custom endpoint are sent without authentication.
	Endpoint string `mapstructure:"endpoint"`
}

// objects is the subset of bucket operations the grid needs.
type objects interface {
	Exists(ctx context.Context, name string) (bool, error)
	NewWriter(ctx context.Context, name string) io.WriteCloser
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
}

// BlobStore writes grid files to a configured GCS bucket.
type BlobStore struct {
	cfg     Config
	objects objects
}

// New creates a GCS-backed grid.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		cfg:     cfg,
		objects: bucketObjects{bucket: client.Bucket(cfg.Bucket)},
	}, nil
}

// Factory rebuilds a BlobStore from its Config descriptor, creating a client
// with Application Default Credentials unless an endpoint is configured.
func Factory(ctx context.Context, raw map[string]any) (grid.Grid, error) {
	bucket, err := grid.StringValue(raw, "bucket")
	if err != nil {
		return nil, err
	}
	cfg := Config{Bucket: bucket}
	cfg.Prefix, _ = raw["prefix"].(string)
	cfg.Endpoint, _ = raw["endpoint"].(string)

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return New(client, cfg)
}

// Name implements grid.Grid.
func (s *BlobStore) Name() string { return Name }

// Config implements grid.Grid.
func (s *BlobStore) Config() map[string]any {
	cfg := map[string]any{"bucket": s.cfg.Bucket}
	if s.cfg.Prefix != "" {
		cfg["prefix"] = s.cfg.Prefix
	}
	if s.cfg.Endpoint != "" {
		cfg["endpoint"] = s.cfg.Endpoint
	}
	return cfg
}

// NewFile implements grid.Grid. The upload carries a does-not-exist
// precondition, so a concurrent writer of the same id fails on Close with
// grid.ErrFileExists instead of overwriting.
func (s *BlobStore) NewFile(ctx context.Context, id string) (io.WriteCloser, error) {
	name, err := s.objectName(id)
	if err != nil {
		return nil, err
	}
	exists, err := s.objects.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("stat gcs object %s: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", grid.ErrFileExists, id)
	}
	return &writer{wc: s.objects.NewWriter(ctx, name), id: id}, nil
}

// Get implements grid.Grid.
func (s *BlobStore) Get(ctx context.Context, id string, mode grid.Mode) (io.ReadCloser, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	name, err := s.objectName(id)
	if err != nil {
		return nil, err
	}
	rc, err := s.objects.NewReader(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", grid.ErrNotFound, id)
		}
		return nil, fmt.Errorf("open gcs object %s: %w", name, err)
	}
	if mode == grid.ModeBinary {
		return rc, nil
	}
	defer rc.Close() //nolint:errcheck // read-only
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", name, err)
	}
	return grid.TextReader(data)
}

func (s *BlobStore) objectName(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("file id is required")
	}
	if s.cfg.Prefix == "" {
		return id, nil
	}
	return path.Join(s.cfg.Prefix, id), nil
}

type writer struct {
	wc io.WriteCloser
	id string
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.wc.Write(p)
	if err != nil {
		return n, fmt.Errorf("write gcs object: %w", err)
	}
	return n, nil
}

// Close must be called to finalize the upload.
func (w *writer) Close() error {
	if err := w.wc.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: %s", grid.ErrFileExists, w.id)
		}
		return fmt.Errorf("close gcs writer: %w", err)
	}
	return nil
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.bucket.Object(name).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (b bucketObjects) NewWriter(ctx context.Context, name string) io.WriteCloser {
	return b.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
}

func (b bucketObjects) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.bucket.Object(name).NewReader(ctx)
}
