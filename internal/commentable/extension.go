// Package commentable is a goldmark extension that makes the top-level blocks
// of a page commentable.
//
// Every top-level paragraph, list, heading and table receives a page-scoped
// identifier of the form "{tag}-{page}-{counter}" and is rendered inside a
// <CommentableParagraph id="..."> wrapper that a client-side comment thread
// can attach to. Identifiers are stable within one render but shift when
// blocks are inserted or removed before them.
package commentable

import (
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultName identifies the extension in logs and configuration.
const DefaultName = "paragraph-comment"

const (
	// goldmark applies transformers in ascending priority; 300 runs after
	// link rewriting (100) and diagram replacement (200).
	transformerPriority = 300
	// Node renderers with a lower priority win, so this must stay below
	// html.Renderer (1000) and the GFM table renderer (500).
	rendererPriority = 100
)

var (
	pagePathKey = parser.NewContextKey()
	anchorsKey  = parser.NewContextKey()
)

// WithPagePath tells the extension which routing path is being converted.
func WithPagePath(pc parser.Context, routePath string) {
	pc.Set(pagePathKey, routePath)
}

// Anchors returns the identifiers assigned while converting with pc.
func Anchors(pc parser.Context) []Anchor {
	if v, ok := pc.Get(anchorsKey).([]Anchor); ok {
		return v
	}
	return nil
}

// Extension wires the assigner and the render interceptor into goldmark.
type Extension struct {
	Context *BuildContext
	Logger  *slog.Logger
	Name    string
}

// New returns an extension bound to bc. A nil bc gets a private context.
func New(name string, bc *BuildContext, logger *slog.Logger) *Extension {
	return &Extension{Name: name, Context: bc, Logger: logger}
}

// Extend implements goldmark.Extender.
func (e *Extension) Extend(m goldmark.Markdown) {
	if e.Name == "" {
		e.Name = DefaultName
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Context == nil {
		e.Context = NewBuildContext()
	}
	logger := e.Logger.With("extension", e.Name)

	if m.Parser() == nil || m.Renderer() == nil {
		logger.Error("markdown parser or renderer unavailable, comment anchors disabled")
		return
	}

	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(&assigner{ctx: e.Context, logger: logger}, transformerPriority),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(NewInterceptor(), rendererPriority),
	))
	logger.Debug("comment anchors enabled")
}

// NewInterceptor returns the render pipeline that wraps stamped blocks. The
// default goldmark HTML and table renderers produce the native markup.
func NewInterceptor() *Pipeline {
	p := NewPipeline(html.NewRenderer(), east.NewTableHTMLRenderer())
	for _, kind := range []ast.NodeKind{
		ast.KindParagraph,
		ast.KindList,
		ast.KindHeading,
		extast.KindTable,
	} {
		p.Use(kind, wrapCommentable)
	}
	return p
}

type assigner struct {
	ctx    *BuildContext
	logger *slog.Logger
}

// Transform implements parser.ASTTransformer.
func (a *assigner) Transform(doc *ast.Document, _ text.Reader, pc parser.Context) {
	routePath, _ := pc.Get(pagePathKey).(string)
	page := NewPageID(routePath)

	if routePath != "" {
		if prev, collided := a.ctx.Claim(page, routePath); collided {
			a.logger.Warn("page identity collision",
				slog.String("page", string(page)),
				slog.String("path", routePath),
				slog.String("previous", prev))
		}
	}

	tokens := Tokenize(doc)
	anchors := Assign(tokens, page, a.ctx)
	apply(tokens)
	pc.Set(anchorsKey, anchors)

	a.logger.Debug("assigned comment anchors",
		slog.String("page", string(page)),
		slog.Int("count", len(anchors)))
}
