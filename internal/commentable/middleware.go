package commentable

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// Middleware decorates the rendering of a node kind. Implementations call
// next to produce the native HTML of the node.
type Middleware func(w util.BufWriter, source []byte, n ast.Node, entering bool, next renderer.NodeRendererFunc) (ast.WalkStatus, error)

// Chain wraps base with mw in order; the first middleware is the outermost.
func Chain(base renderer.NodeRendererFunc, mw ...Middleware) renderer.NodeRendererFunc {
	h := base
	for i := len(mw) - 1; i >= 0; i-- {
		m, next := mw[i], h
		h = func(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
			return m(w, source, n, entering, next)
		}
	}
	return h
}

// Pipeline is a goldmark NodeRenderer that registers, for every configured
// kind, the default goldmark renderer wrapped in an ordered middleware list.
type Pipeline struct {
	middleware map[ast.NodeKind][]Middleware
	defaults   []renderer.NodeRenderer
	kinds      []ast.NodeKind
}

// NewPipeline captures the render funcs of defaults so they can act as the
// innermost renderer of each chain.
func NewPipeline(defaults ...renderer.NodeRenderer) *Pipeline {
	return &Pipeline{
		defaults:   defaults,
		middleware: make(map[ast.NodeKind][]Middleware),
	}
}

// Use appends middleware for kind.
func (p *Pipeline) Use(kind ast.NodeKind, mw ...Middleware) {
	if _, ok := p.middleware[kind]; !ok {
		p.kinds = append(p.kinds, kind)
	}
	p.middleware[kind] = append(p.middleware[kind], mw...)
}

// SetOption implements renderer.SetOptioner so options such as
// html.WithUnsafe reach the captured default renderers.
func (p *Pipeline) SetOption(name renderer.OptionName, value any) {
	for _, nr := range p.defaults {
		if so, ok := nr.(renderer.SetOptioner); ok {
			so.SetOption(name, value)
		}
	}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (p *Pipeline) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	base := funcTable{}
	for _, nr := range p.defaults {
		nr.RegisterFuncs(base)
	}
	for _, kind := range p.kinds {
		fn, ok := base[kind]
		if !ok {
			fn = renderDefault
		}
		reg.Register(kind, Chain(fn, p.middleware[kind]...))
	}
}

type funcTable map[ast.NodeKind]renderer.NodeRendererFunc

func (t funcTable) Register(kind ast.NodeKind, fn renderer.NodeRendererFunc) {
	t[kind] = fn
}

// renderDefault emits the bare tag for n with its global attributes.
func renderDefault(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	tag := tagFor(n)
	if entering {
		_, _ = w.WriteString("<" + tag)
		if n.Attributes() != nil {
			html.RenderAttributes(w, n, html.GlobalAttributeFilter)
		}
		_ = w.WriteByte('>')
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("</" + tag + ">\n")
	return ast.WalkContinue, nil
}
