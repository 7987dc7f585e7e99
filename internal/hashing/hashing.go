// Package hashing provides canonical JSON encoding and the content hashes used
// for document ids, statepoint ids and grid file ids.
package hashing

import (
	"crypto/md5" //nolint:gosec // ids, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
)

// Hasher computes sha256 digests of payload bytes.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical encodes v as JSON with map keys sorted.
func Canonical(v any) ([]byte, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return blob, nil
}

// CalcID returns the 32 character hex id of a JSON-compatible value, the same
// scheme used to name job workspaces after their statepoint.
func CalcID(v any) (string, error) {
	blob, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(blob) //nolint:gosec // ids, not a security boundary
	return hex.EncodeToString(sum[:]), nil
}

// DocumentID hashes the directory (relative to the crawl root), the filename
// and the canonical document. Any _id key in doc is ignored.
func DocumentID(dir, name string, doc map[string]any) (string, error) {
	if _, ok := doc["_id"]; ok {
		doc = maps.Clone(doc)
		delete(doc, "_id")
	}
	blob, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	m := md5.New() //nolint:gosec // ids, not a security boundary
	m.Write([]byte(dir))
	m.Write([]byte(name))
	m.Write(blob)
	return hex.EncodeToString(m.Sum(nil)), nil
}
