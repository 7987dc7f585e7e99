package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
)

type definition struct {
	re     *regexp.Regexp
	format Format
}

// Definitions is an ordered table of filename patterns and the formats of
// the files they match. A table may be shared by several crawlers; patterns
// are evaluated in registration order and a file may match more than one.
type Definitions struct {
	mu      sync.RWMutex
	entries []definition
	logger  *zap.Logger
}

// NewDefinitions returns an empty table.
func NewDefinitions(logger *zap.Logger) *Definitions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Definitions{logger: logger}
}

// Define appends a pattern, given as a string or a compiled *regexp.Regexp.
// A format without an Open function is accepted with a warning; its files
// are fetched as plain readers.
func (d *Definitions) Define(pattern any, format Format) error {
	var re *regexp.Regexp
	switch p := pattern.(type) {
	case string:
		compiled, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", p, err)
		}
		re = compiled
	case *regexp.Regexp:
		if p == nil {
			return fmt.Errorf("nil pattern")
		}
		re = p
	default:
		return fmt.Errorf("unsupported pattern type %T", pattern)
	}
	if format.Open == nil {
		d.logger.Warn("format has no Open function", zap.String("format", format.Name))
		format.Open = passthrough
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, definition{re: re, format: format})
	return nil
}

// Len returns the number of definitions.
func (d *Definitions) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Definitions) snapshot() []definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]definition(nil), d.entries...)
}

// matchAt reports the named groups of re when it matches s starting at the
// first character. Groups that did not participate map to nil.
func matchAt(re *regexp.Regexp, s string) (map[string]any, bool) {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 {
		return nil, false
	}
	groups := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if loc[2*i] < 0 {
			groups[name] = nil
			continue
		}
		groups[name] = s[loc[2*i]:loc[2*i+1]]
	}
	return groups, true
}

// Coerce converts numeric capture strings to numbers. Integral finite values
// within the int64 range become int, other finite values float64. Anything
// else, including NaN and infinities, is returned unchanged.
//
// Non-finite values stay strings so documents remain JSON-encodable.
func Coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int(f)
	}
	return f
}

// RegexSource produces one document per matching definition from the named
// groups of the pattern.
type RegexSource struct {
	root string
	defs *Definitions
}

// NewRegexSource returns a source for files below root.
func NewRegexSource(root string, defs *Definitions) *RegexSource {
	return &RegexSource{root: root, defs: defs}
}

// DocsFromFile implements DocumentSource.
func (s *RegexSource) DocsFromFile(ctx context.Context, dir, name string) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		full := filepath.Join(dir, name)
		for _, def := range s.defs.snapshot() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			groups, ok := matchAt(def.re, full)
			if !ok {
				continue
			}
			doc := make(document.Document, len(groups)+3)
			for k, v := range groups {
				doc[k] = Coerce(v)
			}
			rel, err := filepath.Rel(s.root, full)
			if err != nil {
				yield(nil, fmt.Errorf("relative path of %s: %w", full, err))
				return
			}
			doc[document.KeyFilename] = filepath.ToSlash(rel)
			doc[document.KeyRoot] = absPath(s.root)
			doc[document.KeyFormat] = def.format.Name
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Fetch opens the file recorded in doc with the format of the first
// definition that matches it. Filenames that leave the root are rejected
// with ErrOutsideRoot.
func (s *RegexSource) Fetch(ctx context.Context, doc document.Document, mode grid.Mode) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := mode.Validate(); err != nil {
			yield(nil, err)
			return
		}
		fn, _ := doc[document.KeyFilename].(string)
		if fn == "" {
			return
		}
		if !filepath.IsLocal(filepath.FromSlash(fn)) {
			yield(nil, fmt.Errorf("%w: filename %q", ErrOutsideRoot, fn))
			return
		}
		full := filepath.Join(s.root, filepath.FromSlash(fn))
		for _, def := range s.defs.snapshot() {
			if _, ok := matchAt(def.re, full); !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			rc, err := openLocal(full, mode)
			if err != nil {
				yield(nil, err)
				return
			}
			payload, err := def.format.Open(rc)
			if err != nil {
				yield(nil, fmt.Errorf("open %s as %s: %w", full, def.format.Name, err))
				return
			}
			yield(payload, nil)
			return
		}
	}
}

func openLocal(path string, mode grid.Mode) (io.ReadCloser, error) {
	if mode == grid.ModeBinary {
		return os.Open(path) //nolint:gosec // path comes from the crawl root
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the crawl root
	if err != nil {
		return nil, err
	}
	rc, err := grid.TextReader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rc, nil
}

// RegexFileCrawler indexes files by matching their paths against a
// Definitions table.
type RegexFileCrawler struct {
	*Base
	source *RegexSource
}

// NewRegexFileCrawler returns a crawler over root using defs.
func NewRegexFileCrawler(root string, defs *Definitions, opts ...Option) *RegexFileCrawler {
	source := NewRegexSource(root, defs)
	return &RegexFileCrawler{
		Base:   NewBase(root, source, append([]Option{WithName("regex")}, opts...)...),
		source: source,
	}
}

// Fetch implements PayloadProvider.
func (c *RegexFileCrawler) Fetch(ctx context.Context, doc document.Document, mode grid.Mode) iter.Seq2[any, error] {
	return c.source.Fetch(ctx, doc, mode)
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// readAll drains and closes a payload value when it is a reader.
func readAll(v any) ([]byte, bool, error) {
	switch t := v.(type) {
	case io.Reader:
		data, err := io.ReadAll(t)
		if c, ok := t.(io.Closer); ok {
			_ = c.Close()
		}
		return data, true, err
	case []byte:
		return bytes.Clone(t), true, nil
	case string:
		return []byte(t), true, nil
	default:
		return nil, false, nil
	}
}
