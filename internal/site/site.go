// Package site builds the static documentation site and exports single pages.
package site

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/docsite/internal/config"
	"github.com/euforicio/docsite/internal/content/tree"
	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/renderer"
	"github.com/euforicio/docsite/internal/renderer/d2"
	docstatic "github.com/euforicio/docsite/static"
)

const indexHTML = "index.html"

// Options configure one static build.
type Options struct {
	Site          config.Site
	Comments      config.Comments
	Root          string
	OutputDir     string
	AssetsDir     string
	AssetPrefix   string
	IncludeHidden bool
	DarkModeFirst bool
	CleanOutput   bool
}

// Config wires the builder to shared services. Every field may be zero.
type Config struct {
	D2         *d2.Renderer
	Metrics    *metrics.Metrics
	PluginName string
	// Renderer serves ExportPage so exported anchors match the live site.
	// Nil renders exports with a private renderer.
	Renderer *renderer.Service
}

// Result summarizes a build.
type Result struct {
	Output   string
	Pages    int
	Anchors  int
	Duration time.Duration
}

// Builder renders markdown content into a static HTML bundle.
type Builder struct {
	cfg       Config
	templates *templateRenderer
	exporter  *renderer.Service
	logger    *slog.Logger
}

// New constructs a builder.
func New(logger *slog.Logger, cfg Config) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	b := &Builder{
		cfg:       cfg,
		templates: tmpl,
		logger:    logger.With("component", "site"),
	}
	b.exporter = cfg.Renderer
	if b.exporter == nil {
		b.exporter = b.newRenderer(false)
	}
	return b, nil
}

// newRenderer returns a renderer with its own anchor counters.
func (b *Builder) newRenderer(static bool) *renderer.Service {
	return renderer.NewService(b.logger, renderer.Options{
		D2:          b.cfg.D2,
		Metrics:     b.cfg.Metrics,
		PluginName:  b.cfg.PluginName,
		StaticLinks: static,
	})
}

// Build walks opts.Root and writes the site to opts.OutputDir. Each build
// numbers comment anchors from zero; pages are rendered in tree order.
//
//nolint:gocognit // build orchestration is a fixed sequence of steps
func (b *Builder) Build(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return Result{}, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Result{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.AssetPrefix) == "" {
		opts.AssetPrefix = "assets"
	}
	if strings.TrimSpace(opts.Site.Title) == "" {
		opts.Site.Title = "docsite"
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return Result{}, fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output: %w", err)
	}
	if outputDir == rootDir {
		return Result{}, errors.New("output directory must differ from the root directory")
	}
	if err := prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return Result{}, err
	}

	start := time.Now().UTC()
	r := b.newRenderer(true)

	// The tree build renders every page once; the loop below hits the cache.
	treeRoot, err := tree.Build(ctx, rootDir, tree.Options{
		IncludeHidden: opts.IncludeHidden,
		Renderer:      r,
		ExcludeDirs:   []string{filepath.Base(outputDir)},
	})
	if err != nil {
		return Result{}, fmt.Errorf("build content tree: %w", err)
	}

	docs := tree.Files(treeRoot)
	siteData := siteViewData{
		Site:          opts.Site,
		Comments:      opts.Comments,
		GeneratedAt:   start,
		Tree:          treeRoot,
		DarkModeFirst: opts.DarkModeFirst,
	}
	treePayload := struct {
		GeneratedAt time.Time  `json:"generatedAt"`
		Root        *tree.Node `json:"root"`
	}{GeneratedAt: start, Root: treeRoot}

	assets := buildAssetRefs(opts.AssetPrefix)
	if err := b.copyAssetBundle(filepath.Join(outputDir, filepath.FromSlash(opts.AssetPrefix)), opts.AssetsDir); err != nil {
		return Result{}, err
	}

	anchors := make(map[string][]string, len(docs))
	var (
		landing  *layoutViewData
		hasIndex bool
	)
	res := Result{Output: outputDir}

	for _, node := range docs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		absPath := filepath.Join(rootDir, filepath.FromSlash(node.RelativePath))
		info, err := os.Stat(absPath)
		if err != nil {
			return Result{}, fmt.Errorf("stat %s: %w", node.RelativePath, err)
		}
		raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w", node.RelativePath, err)
		}
		doc, err := r.Render(ctx, node.RelativePath, info.ModTime(), raw)
		if err != nil {
			return Result{}, fmt.Errorf("render %s: %w", node.RelativePath, err)
		}

		ids := make([]string, len(doc.Anchors))
		for i, a := range doc.Anchors {
			ids[i] = a.ID
		}
		anchors[doc.Route] = ids
		res.Anchors += len(ids)

		page := pageViewData{
			Path:        node.RelativePath,
			Route:       doc.Route,
			Output:      toHTMLRel(node.RelativePath),
			Title:       firstNonEmpty(doc.Metadata.Title, node.Title),
			HTML:        template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
			Metadata:    doc.Metadata,
			Modified:    doc.Modified,
			Breadcrumbs: breadcrumbsFor(treeRoot, node.RelativePath),
		}
		if base := opts.Site.BaseURL; base != "" {
			page.Canonical = base + "/" + page.Output
		}

		layout := layoutViewData{
			Site:        siteData,
			Page:        page,
			Assets:      assets.relativeTo(page.Output),
			Active:      node.RelativePath,
			HasDocument: true,
		}
		if err := b.writePage(outputDir, page.Output, layout); err != nil {
			return Result{}, fmt.Errorf("write page %s: %w", node.RelativePath, err)
		}
		if landing == nil {
			landing = &layout
		}
		hasIndex = hasIndex || page.Output == indexHTML
		res.Pages++
	}

	if err := copyMedia(rootDir, outputDir, opts.IncludeHidden); err != nil {
		return Result{}, err
	}
	if err := b.writeLanding(outputDir, siteData, assets.relativeTo(indexHTML), landing, hasIndex); err != nil {
		return Result{}, err
	}
	if err := writeJSON(outputDir, "tree.json", treePayload); err != nil {
		return Result{}, err
	}
	if err := writeJSON(outputDir, "anchors.json", anchors); err != nil {
		return Result{}, err
	}

	res.Duration = time.Since(start)
	b.logger.Info("build complete",
		slog.Int("pages", res.Pages),
		slog.Int("anchors", res.Anchors),
		slog.String("output", outputDir),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// writeLanding gives the site an index.html when no index page exists: a
// redirect to the first page, or a placeholder for an empty root.
func (b *Builder) writeLanding(outputDir string, siteData siteViewData, assets assetRefs, first *layoutViewData, hasIndex bool) error {
	if hasIndex {
		return nil
	}
	if first != nil {
		var buf bytes.Buffer
		if err := b.templates.render(&buf, "redirect", first.Page.Output); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(outputDir, indexHTML), buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
	}

	welcome := layoutViewData{Site: siteData, Assets: assets}
	welcome.Page.Title = siteData.Site.Title
	welcome.Page.Output = indexHTML
	welcome.Page.HTML = template.HTML(`<div class="empty-state">No markdown documents were found. Add <code>.md</code> files under the root directory and rebuild.</div>`)
	if err := b.writePage(outputDir, indexHTML, welcome); err != nil {
		return fmt.Errorf("write welcome page: %w", err)
	}
	return nil
}

func (b *Builder) writePage(root, rel string, data layoutViewData) error {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	var buf bytes.Buffer
	if err := b.templates.render(&buf, "layout", data); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
}

func (b *Builder) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	override = strings.TrimSpace(override)
	if override != "" {
		info, err := os.Stat(override)
		switch {
		case err == nil && info.IsDir():
			if err := copyAssets(override, dest); err != nil {
				return fmt.Errorf("copy override assets: %w", err)
			}
			b.logger.Debug("using override assets", slog.String("source", override))
			return nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("stat assets override: %w", err)
		}
	}
	if err := docstatic.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	return nil
}

func prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755) //nolint:gosec // standard directory permissions
}

func toHTMLRel(rel string) string {
	clean := strings.TrimSuffix(strings.TrimSpace(rel), "/")
	clean = strings.TrimSuffix(clean, path.Ext(clean))
	if clean == "" {
		return indexHTML
	}
	return clean + ".html"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type breadcrumb struct {
	Title string
	URL   string
}

func breadcrumbsFor(root *tree.Node, target string) []breadcrumb {
	nodes := tree.Trail(root, target)
	if len(nodes) <= 1 {
		return nil
	}
	nodes = nodes[1:]
	out := make([]breadcrumb, len(nodes))
	for i, node := range nodes {
		out[i] = breadcrumb{Title: node.Title}
	}
	return out
}

type assetRefs struct {
	Prefix    string
	CSSApp    string
	CSSChroma string
	JSApp     string
	JSComment string
}

func buildAssetRefs(prefix string) assetRefs {
	clean := strings.Trim(prefix, "/")
	if clean == "" {
		clean = "assets"
	}
	return assetRefs{
		Prefix:    clean,
		CSSApp:    path.Join(clean, "css", "app.css"),
		CSSChroma: path.Join(clean, "vendor", "chroma-github-dark.min.css"),
		JSApp:     path.Join(clean, "js", "static-site.js"),
		JSComment: path.Join(clean, "js", "chunks", "comments.js"),
	}
}

// relativeTo rewrites the refs so they resolve from the page at rel.
func (a assetRefs) relativeTo(rel string) assetRefs {
	depth := strings.Count(rel, "/")
	if depth == 0 {
		return a
	}
	up := strings.Repeat("../", depth)
	a.CSSApp = up + a.CSSApp
	a.CSSChroma = up + a.CSSChroma
	a.JSApp = up + a.JSApp
	a.JSComment = up + a.JSComment
	return a
}

func copyAssets(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755) //nolint:gosec // standard directory permissions
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p) //nolint:gosec // path from validated source directory
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
}

// copyMedia mirrors the non-markdown files of the content root, so relative
// image references keep resolving from the generated pages.
func copyMedia(root, output string, includeHidden bool) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if p == root {
				return nil
			}
			if p == output || tree.Excluded(name) || (!includeHidden && strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !isMedia(name) || (!includeHidden && strings.HasPrefix(name, ".")) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		target := filepath.Join(output, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // path from validated root
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
	if err != nil {
		return fmt.Errorf("copy media: %w", err)
	}
	return nil
}

var mediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".avif": {}, ".ico": {}, ".pdf": {},
}

func isMedia(name string) bool {
	_, ok := mediaExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func writeJSON(output, name string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(output, name), raw, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

//nolint:govet // field order optimized for readability, not memory
type layoutViewData struct {
	Page        pageViewData
	Site        siteViewData
	Assets      assetRefs
	Active      string
	HasDocument bool
}

type siteViewData struct {
	GeneratedAt   time.Time
	Tree          *tree.Node
	Site          config.Site
	Comments      config.Comments
	DarkModeFirst bool
}

type pageViewData struct {
	Metadata    renderer.Metadata
	Modified    time.Time
	Path        string
	Route       string
	Output      string
	Title       string
	HTML        template.HTML
	Canonical   string
	Breadcrumbs []breadcrumb
}
