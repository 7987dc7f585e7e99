package crawler

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Format describes how a matched file is opened. Open takes ownership of r.
type Format struct {
	Name string
	Open func(r io.ReadCloser) (any, error)
}

// Built-in formats.
var (
	// TextFile yields the file itself; the caller reads and closes it.
	TextFile = Format{Name: "TextFile", Open: passthrough}
	// BinaryFile yields the file itself for binary reads.
	BinaryFile = Format{Name: "BinaryFile", Open: passthrough}
	// JSONFile decodes the file and closes it.
	JSONFile = Format{Name: "JSONFile", Open: decodeJSON}
)

func passthrough(r io.ReadCloser) (any, error) {
	return r, nil
}

func decodeJSON(r io.ReadCloser) (any, error) {
	defer r.Close() //nolint:errcheck // read-only
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	return v, nil
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{
		"text":   TextFile,
		"binary": BinaryFile,
		"json":   JSONFile,
	}
)

// RegisterFormat makes f available to descriptor-driven crawlers under key.
func RegisterFormat(key string, f Format) error {
	if key == "" {
		return fmt.Errorf("format key is required")
	}
	if f.Open == nil {
		return fmt.Errorf("format %q has no Open function", key)
	}
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[key] = f
	return nil
}

// LookupFormat returns the format registered under key.
func LookupFormat(key string) (Format, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[key]
	return f, ok
}
