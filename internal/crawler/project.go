package crawler

import (
	"context"
	"iter"

	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
)

// ProjectCrawler indexes a project workspace: job documents plus every file
// matched by its definitions, each tagged with the job statepoint.
type ProjectCrawler struct {
	*Base
	Jobs  *JobDocumentSource
	Files *RegexSource
}

// NewProjectCrawler returns a crawler over the workspace root.
func NewProjectCrawler(root string, defs *Definitions, opts ...Option) *ProjectCrawler {
	o := newOptions("project", opts)
	c := &ProjectCrawler{
		Jobs:  NewJobDocumentSource(root, o.logger),
		Files: NewRegexSource(root, defs),
	}
	c.Base = NewBase(root, projectSource{c}, append([]Option{WithName("project")}, opts...)...)
	return c
}

// Fetch implements PayloadProvider for files matched by the definitions.
func (c *ProjectCrawler) Fetch(ctx context.Context, doc document.Document, mode grid.Mode) iter.Seq2[any, error] {
	return c.Files.Fetch(ctx, doc, mode)
}

type projectSource struct {
	c *ProjectCrawler
}

func (s projectSource) DocsFromFile(ctx context.Context, dir, name string) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		for doc, err := range s.c.Jobs.DocsFromFile(ctx, dir, name) {
			if !yield(doc, err) || err != nil {
				return
			}
		}
		for doc, err := range s.c.Files.DocsFromFile(ctx, dir, name) {
			if err == nil {
				doc, err = s.c.Jobs.Augmenter.Process(doc, dir, name)
			}
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}
