package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/signac-index/internal/crawler"
)

// Crawler types understood by descriptors.
const (
	TypeRegex   = "regex"
	TypeJSON    = "json"
	TypeProject = "project"
)

// descriptorFile is the YAML layout of an access module:
//
//	crawlers:
//	  main:
//	    type: regex
//	    root: data
//	    tags: [fast]
//	    definitions:
//	      - pattern: '.*/a_(?P<a>\d+)\.txt'
//	        format: text
type descriptorFile struct {
	Crawlers map[string]crawlerSpec `yaml:"crawlers"`
}

type crawlerSpec struct {
	Type            string           `yaml:"type"`
	Root            string           `yaml:"root"`
	Tags            []string         `yaml:"tags"`
	Exclude         []string         `yaml:"exclude"`
	Definitions     []definitionSpec `yaml:"definitions"`
	FilenamePattern string           `yaml:"filename_pattern"`
	Encoding        string           `yaml:"encoding"`
}

type definitionSpec struct {
	Pattern string `yaml:"pattern"`
	Format  string `yaml:"format"`
}

// Descriptor loads access modules described in YAML.
type Descriptor struct {
	logger *zap.Logger
	opts   []crawler.Option
}

// NewDescriptor returns a descriptor loader. opts are applied to every
// crawler it builds.
func NewDescriptor(logger *zap.Logger, opts ...crawler.Option) *Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Descriptor{logger: logger, opts: opts}
}

// Load implements crawler.Loader. The descriptor is validated eagerly so a
// broken module fails the crawl at load time.
func (d *Descriptor) Load(_ context.Context, path string) (crawler.Provider, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // module paths come from the crawl root
	if err != nil {
		return nil, fmt.Errorf("load access module: %w", err)
	}
	var file descriptorFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse access module %s: %w", path, err)
	}
	if file.Crawlers == nil {
		return nil, fmt.Errorf("%w: %s has no crawlers", crawler.ErrNoEntryPoint, path)
	}
	for id, spec := range file.Crawlers {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("access module %s crawler %s: %w", path, id, err)
		}
	}
	d.logger.Debug("loaded access module", zap.String("path", path), zap.Int("crawlers", len(file.Crawlers)))
	return crawler.ProviderFunc(func(dir string) (map[string]crawler.Crawler, error) {
		out := make(map[string]crawler.Crawler, len(file.Crawlers))
		for id, spec := range file.Crawlers {
			c, err := d.build(dir, spec)
			if err != nil {
				return nil, fmt.Errorf("crawler %s: %w", id, err)
			}
			out[id] = c
		}
		return out, nil
	}), nil
}

func (s crawlerSpec) validate() error {
	switch s.Type {
	case TypeRegex, TypeProject:
		for _, def := range s.Definitions {
			if _, ok := crawler.LookupFormat(def.Format); !ok {
				return fmt.Errorf("unknown format %q", def.Format)
			}
			if _, err := regexp.Compile(def.Pattern); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", def.Pattern, err)
			}
		}
	case TypeJSON:
		if s.FilenamePattern != "" {
			if _, err := regexp.Compile(s.FilenamePattern); err != nil {
				return fmt.Errorf("invalid filename_pattern %q: %w", s.FilenamePattern, err)
			}
		}
		if s.Encoding != "" {
			if _, err := crawler.LookupEncoding(s.Encoding); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown crawler type %q", s.Type)
	}
	return nil
}

func (d *Descriptor) build(dir string, spec crawlerSpec) (crawler.Crawler, error) {
	root := dir
	if spec.Root != "" {
		root = spec.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(dir, root)
		}
	}
	opts := append([]crawler.Option{
		crawler.WithLogger(d.logger),
		crawler.WithTags(spec.Tags...),
		crawler.WithExclude(spec.Exclude...),
	}, d.opts...)

	switch spec.Type {
	case TypeJSON:
		c := crawler.NewJSONCrawler(root, opts...)
		if spec.FilenamePattern != "" {
			c.Source.FilenamePattern = regexp.MustCompile(spec.FilenamePattern)
		}
		if spec.Encoding != "" {
			enc, err := crawler.LookupEncoding(spec.Encoding)
			if err != nil {
				return nil, err
			}
			c.Source.Encoding = enc
		}
		return c, nil
	case TypeRegex, TypeProject:
		defs := crawler.NewDefinitions(d.logger)
		for _, def := range spec.Definitions {
			format, _ := crawler.LookupFormat(def.Format)
			if err := defs.Define(def.Pattern, format); err != nil {
				return nil, err
			}
		}
		if spec.Type == TypeProject {
			return crawler.NewProjectCrawler(root, defs, opts...), nil
		}
		return crawler.NewRegexFileCrawler(root, defs, opts...), nil
	default:
		return nil, fmt.Errorf("unknown crawler type %q", spec.Type)
	}
}
