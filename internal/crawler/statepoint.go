package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/hashing"
)

// Project layout defaults.
const (
	DefaultStatepointFilename = "signac_statepoint.json"
	DefaultStatepointIndex    = document.KeyStatepoint
	DefaultJobDocumentPattern = `.*/signac_job_document\.json`
)

// ErrStatepointMismatch is returned when a job directory is not named after
// the id of its statepoint.
var ErrStatepointMismatch = errors.New("job directory does not match statepoint id")

// StatepointAugmenter is a Processor that adds the statepoint of the
// enclosing job to each document. The job directory is the first path
// component below Root.
type StatepointAugmenter struct {
	Root string
	// Filename is the statepoint file inside each job directory.
	Filename string
	// Index is the key the statepoint is stored under. When empty the
	// statepoint keys are merged into the document.
	Index    string
	Encoding encoding.Encoding
}

// NewStatepointAugmenter returns an augmenter with the default layout.
func NewStatepointAugmenter(root string) *StatepointAugmenter {
	return &StatepointAugmenter{
		Root:     root,
		Filename: DefaultStatepointFilename,
		Index:    DefaultStatepointIndex,
		Encoding: unicode.UTF8,
	}
}

// Statepoint returns the id and statepoint of the job containing dir.
func (a *StatepointAugmenter) Statepoint(dir string) (string, map[string]any, error) {
	rel, err := filepath.Rel(a.Root, dir)
	if err != nil {
		return "", nil, fmt.Errorf("job of %s: %w", dir, err)
	}
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	jobPath := filepath.Join(a.Root, first)

	filename := a.Filename
	if filename == "" {
		filename = DefaultStatepointFilename
	}
	raw, err := os.ReadFile(filepath.Join(jobPath, filename)) //nolint:gosec // path comes from the crawl root
	if err != nil {
		return "", nil, fmt.Errorf("read statepoint: %w", err)
	}
	enc := a.Encoding
	if enc == nil {
		enc = unicode.UTF8
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", nil, fmt.Errorf("decode statepoint of %s: %w", jobPath, err)
	}
	var sp map[string]any
	if err := json.Unmarshal(decoded, &sp); err != nil {
		return "", nil, fmt.Errorf("parse statepoint of %s: %w", jobPath, err)
	}
	id, err := hashing.CalcID(sp)
	if err != nil {
		return "", nil, err
	}
	if !strings.HasSuffix(jobPath, id) {
		return "", nil, fmt.Errorf("%w: %s (id %s)", ErrStatepointMismatch, jobPath, id)
	}
	return id, sp, nil
}

// Process implements Processor.
func (a *StatepointAugmenter) Process(doc document.Document, dir, _ string) (document.Document, error) {
	id, sp, err := a.Statepoint(dir)
	if err != nil {
		return nil, err
	}
	a.apply(doc, id, sp)
	return doc, nil
}

func (a *StatepointAugmenter) apply(doc document.Document, id string, sp map[string]any) {
	doc[document.KeySignacID] = id
	if a.Index != "" {
		doc[a.Index] = sp
		return
	}
	maps.Copy(doc, sp)
}

// JobDocumentSource yields the job document of every job, augmented with
// its statepoint and keyed by the job id.
type JobDocumentSource struct {
	Augmenter *StatepointAugmenter
	Pattern   *regexp.Regexp
	// IDAlias receives the job id in addition to signac_id. Empty disables it.
	IDAlias string
	Logger  *zap.Logger
}

// NewJobDocumentSource returns a source for the project under root.
func NewJobDocumentSource(root string, logger *zap.Logger) *JobDocumentSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobDocumentSource{
		Augmenter: NewStatepointAugmenter(root),
		Pattern:   regexp.MustCompile(DefaultJobDocumentPattern),
		IDAlias:   document.KeyID,
		Logger:    logger,
	}
}

// DocsFromFile implements DocumentSource.
func (s *JobDocumentSource) DocsFromFile(_ context.Context, dir, name string) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		full := filepath.Join(dir, name)
		if _, ok := matchAt(s.Pattern, full); !ok {
			return
		}
		raw, err := os.ReadFile(full) //nolint:gosec // path comes from the crawl root
		if err != nil {
			yield(nil, fmt.Errorf("read job document: %w", err))
			return
		}
		var jobDoc document.Document
		if err := json.Unmarshal(raw, &jobDoc); err != nil || jobDoc == nil {
			if err == nil {
				err = fmt.Errorf("top-level value is not an object")
			}
			id, _, _ := s.Augmenter.Statepoint(dir)
			s.Logger.Error("failed to load job document",
				zap.String("job", id), zap.String("path", full), zap.Error(err))
			yield(nil, fmt.Errorf("parse job document %s: %w", full, err))
			return
		}
		id, sp, err := s.Augmenter.Statepoint(dir)
		if err != nil {
			yield(nil, err)
			return
		}
		s.Augmenter.apply(jobDoc, id, sp)
		if s.IDAlias != "" {
			jobDoc[s.IDAlias] = id
		}
		yield(jobDoc, nil)
	}
}
