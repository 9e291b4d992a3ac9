// Package renderer converts markdown pages to HTML with comment anchors,
// diagrams and syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"
	"golang.org/x/sync/singleflight"

	"github.com/euforicio/docsite/internal/commentable"
	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/renderer/d2"
	"github.com/euforicio/docsite/internal/renderer/transform"
)

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document represents a rendered markdown file.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Route    string
	Metadata Metadata
	Anchors  []commentable.Anchor
	Modified time.Time
	Raw      string
}

// Options configure a Service.
type Options struct {
	// BuildContext receives the per-page anchor counters. Nil creates one
	// owned by the service.
	BuildContext *commentable.BuildContext
	// D2 compiles ```d2 fences server-side. Nil leaves them as code blocks.
	D2 *d2.Renderer
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// PluginName names the comment extension in logs.
	PluginName string
	// StaticLinks keeps links relative for the static build.
	StaticLinks bool
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

// Service renders markdown into HTML with caching.
// Rendered documents are cached by path and modification time; a cache hit
// does not consume anchor counters.
type Service struct {
	md      goldmark.Markdown
	build   *commentable.BuildContext
	metrics *metrics.Metrics
	logger  *slog.Logger
	cache   sync.Map // map[string]cacheEntry
	// flight collapses concurrent cold renders of one path and modTime so
	// they share a single set of anchor identifiers.
	flight singleflight.Group
}

// NewService constructs the markdown pipeline:
//   - GitHub-flavored markdown, YAML frontmatter and heading anchors
//   - chroma highlighting with mermaid fences left for the browser
//   - server-side D2 diagrams when opts.D2 is set
//   - link rewriting to /page/ and /media/ routes, or relative .html links
//   - comment anchors on every top-level paragraph, list, heading and table
//
// If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BuildContext == nil {
		opts.BuildContext = commentable.NewBuildContext()
	}
	logger = logger.With("component", "renderer")

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			chromahtml.WithLineNumbers(false),
			chromahtml.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.ClientDiagramWrapper()),
	)

	transformers := []util.PrioritizedValue{
		util.Prioritized(transform.Links{Static: opts.StaticLinks}, 100),
	}
	var nodeRenderers []util.PrioritizedValue
	if opts.D2 != nil {
		transformers = append(transformers,
			util.Prioritized(transform.NewDiagramTransformer(opts.D2, "d2", logger), 200))
		nodeRenderers = append(nodeRenderers, util.Prioritized(transform.DiagramRenderer{}, 100))
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{Position: anchor.After},
			commentable.New(opts.PluginName, opts.BuildContext, logger),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
			parser.WithASTTransformers(transformers...),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
			html.WithXHTML(),
			renderer.WithNodeRenderers(nodeRenderers...),
		),
	)

	return &Service{
		md:      md,
		build:   opts.BuildContext,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// BuildContext returns the counters the service assigns anchors from.
func (s *Service) BuildContext() *commentable.BuildContext {
	return s.build
}

// Render converts markdown content to HTML, caching results by path and
// modification time. path is relative to the content root and determines
// both relative link resolution and the page identity of its anchors.
func (s *Service) Render(_ context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	if doc, ok := s.cached(path, modTime); ok {
		return doc, nil
	}

	key := path + "\x00" + strconv.FormatInt(modTime.UnixNano(), 10)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		if doc, ok := s.cached(path, modTime); ok {
			return doc, nil
		}
		return s.render(path, modTime, content)
	})
	if err != nil {
		return Document{}, err
	}
	return v.(Document), nil
}

func (s *Service) cached(path string, modTime time.Time) (Document, bool) {
	entry, ok := s.cache.Load(path)
	if !ok {
		return Document{}, false
	}
	cached, ok := entry.(cacheEntry)
	if !ok || cached.modTime.IsZero() || !modTime.Equal(cached.modTime) {
		return Document{}, false
	}
	return cached.doc, true
}

func (s *Service) render(path string, modTime time.Time, content []byte) (Document, error) {
	route := RoutePath(path)
	pc := parser.NewContext()
	transform.WithDocPath(pc, path)
	commentable.WithPagePath(pc, route)

	start := time.Now()
	var buf bytes.Buffer
	if err := s.md.Convert(content, &buf, parser.WithContext(pc)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	anchors := commentable.Anchors(pc)
	tags := make([]string, len(anchors))
	for i, a := range anchors {
		tags[i] = a.Tag
	}
	s.metrics.ObserveRender(time.Since(start), tags)

	doc := Document{
		HTML:     buf.String(),
		Route:    route,
		Metadata: extractMetadata(pc),
		Anchors:  anchors,
		Modified: modTime,
		Raw:      string(content),
	}

	s.cache.Store(path, cacheEntry{modTime: modTime, doc: doc})
	s.logger.Debug("rendered page", slog.String("path", path), slog.Int("anchors", len(anchors)))
	return doc, nil
}

// Invalidate removes the cached entry for the given path.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(path)
}

// RoutePath maps a content-relative markdown path to the routing path that
// identifies the page: "docs/intro.md" becomes "/docs/intro".
func RoutePath(rel string) string {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	for _, ext := range []string{".md", ".markdown"} {
		if strings.HasSuffix(strings.ToLower(rel), ext) {
			rel = rel[:len(rel)-len(ext)]
			break
		}
	}
	return "/" + rel
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if len(raw) == 0 {
		return meta
	}

	meta.Raw = make(map[string]any, len(raw))
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			meta.Title, _ = toString(v)
		case "description", "summary":
			meta.Description, _ = toString(v)
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}
	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
