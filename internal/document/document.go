// Package document defines the index document shared by crawlers, fetch
// resolution and index sinks.
package document

import (
	"maps"
)

// Reserved document keys.
const (
	KeyID       = "_id"
	KeyFormat   = "format"
	KeyFilename = "filename"
	KeyRoot     = "root"
	KeyLink     = "signac_link"
	KeyProject  = "project"

	KeySignacID   = "signac_id"
	KeyStatepoint = "statepoint"
)

// Keys of the signac_link block.
const (
	LinkCrawlerRoot   = "access_crawler_root"
	LinkCrawlerModule = "access_module"
	LinkCrawlerID     = "access_crawler_id"
	LinkFileIDs       = "file_ids"
)

// Document is a JSON-compatible mapping produced by a crawl.
type Document map[string]any

// Entry pairs a document with its content id.
type Entry struct {
	ID  string
	Doc Document
}

// ID returns the document's _id value, or "" when missing or not a string.
func (d Document) ID() string {
	id, _ := d[KeyID].(string)
	return id
}

// SetDefault stores value under key unless key is already present and returns
// the effective value.
func (d Document) SetDefault(key string, value any) any {
	if existing, ok := d[key]; ok {
		return existing
	}
	d[key] = value
	return value
}

// Clone returns a deep copy of nested maps and slices. Scalars are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case map[string]any:
		out := maps.Clone(t)
		for k, inner := range out {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Link returns the signac_link block, or nil when the document has none.
func (d Document) Link() map[string]any {
	switch link := d[KeyLink].(type) {
	case map[string]any:
		return link
	case Document:
		return link
	default:
		return nil
	}
}

// EnsureLink returns the signac_link block, creating it when absent.
func (d Document) EnsureLink() map[string]any {
	if link := d.Link(); link != nil {
		return link
	}
	link := make(map[string]any)
	d[KeyLink] = link
	return link
}

// FileIDs returns the content hashes recorded in a link block. It accepts the
// []string form written by crawlers and the []any form produced by JSON
// decoding.
func FileIDs(link map[string]any) []string {
	switch ids := link[LinkFileIDs].(type) {
	case []string:
		return append([]string(nil), ids...)
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AddFileID appends id to the link's file_ids unless already present.
func AddFileID(link map[string]any, id string) {
	ids := FileIDs(link)
	for _, existing := range ids {
		if existing == id {
			link[LinkFileIDs] = ids
			return
		}
	}
	link[LinkFileIDs] = append(ids, id)
}
