package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/JakeFAU/signac-index/internal/document"
)

// DefaultJSONPattern matches files with a .json extension.
const DefaultJSONPattern = `.*\.json`

// JSONSource reads each matching file as a JSON object.
type JSONSource struct {
	// FilenamePattern must match the file path from its first character.
	FilenamePattern *regexp.Regexp
	// Encoding decodes file bytes before parsing.
	Encoding encoding.Encoding
	// DocsFromJSON expands a parsed object into documents. The default
	// yields the object itself.
	DocsFromJSON func(doc document.Document) iter.Seq2[document.Document, error]
}

// NewJSONSource returns a source with the default pattern, UTF-8 decoding
// and an identity DocsFromJSON hook.
func NewJSONSource() *JSONSource {
	return &JSONSource{
		FilenamePattern: regexp.MustCompile(DefaultJSONPattern),
		Encoding:        unicode.UTF8,
	}
}

// LookupEncoding resolves an IANA charset name such as "utf-8" or
// "iso-8859-1".
func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("lookup encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

// DocsFromFile implements DocumentSource.
func (s *JSONSource) DocsFromFile(_ context.Context, dir, name string) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		full := filepath.Join(dir, name)
		if _, ok := matchAt(s.pattern(), full); !ok {
			return
		}
		raw, err := os.ReadFile(full) //nolint:gosec // path comes from the crawl root
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", full, err))
			return
		}
		enc := s.Encoding
		if enc == nil {
			enc = unicode.UTF8
		}
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			yield(nil, fmt.Errorf("decode %s: %w", full, err))
			return
		}
		var doc document.Document
		if err := json.Unmarshal(decoded, &doc); err != nil {
			yield(nil, fmt.Errorf("parse %s: %w", full, err))
			return
		}
		if doc == nil {
			yield(nil, fmt.Errorf("parse %s: top-level value is not an object", full))
			return
		}
		if s.DocsFromJSON == nil {
			yield(doc, nil)
			return
		}
		for d, err := range s.DocsFromJSON(doc) {
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

func (s *JSONSource) pattern() *regexp.Regexp {
	if s.FilenamePattern == nil {
		return regexp.MustCompile(DefaultJSONPattern)
	}
	return s.FilenamePattern
}

// JSONCrawler indexes JSON files by their content.
type JSONCrawler struct {
	*Base
	Source *JSONSource
}

// NewJSONCrawler returns a crawler over root. Adjust crawler.Source to
// change the pattern, encoding or expansion hook.
func NewJSONCrawler(root string, opts ...Option) *JSONCrawler {
	source := NewJSONSource()
	return &JSONCrawler{
		Base:   NewBase(root, source, append([]Option{WithName("json")}, opts...)...),
		Source: source,
	}
}
