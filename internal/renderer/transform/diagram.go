package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/docsite/internal/renderer/d2"
)

// Compiler turns diagram source into SVG markup.
type Compiler interface {
	Compile(ctx context.Context, source string) (d2.Result, error)
}

// DiagramTransformer replaces ```d2 fences with pre-rendered Diagram nodes.
type DiagramTransformer struct {
	compiler Compiler
	logger   *slog.Logger
	lang     string
}

// NewDiagramTransformer returns a transformer for fences tagged lang. A nil
// compiler turns it into a no-op.
func NewDiagramTransformer(compiler Compiler, lang string, logger *slog.Logger) *DiagramTransformer {
	if logger == nil {
		logger = slog.Default()
	}
	if lang == "" {
		lang = "d2"
	}
	return &DiagramTransformer{compiler: compiler, lang: lang, logger: logger}
}

// Transform implements parser.ASTTransformer.
func (t *DiagramTransformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	if t == nil || t.compiler == nil || doc == nil {
		return
	}
	t.replace(doc, reader.Source())
}

func (t *DiagramTransformer) replace(parent ast.Node, source []byte) {
	for child := parent.FirstChild(); child != nil; {
		next := child.NextSibling()
		fence, ok := child.(*ast.FencedCodeBlock)
		if !ok {
			if child.HasChildren() {
				t.replace(child, source)
			}
			child = next
			continue
		}
		lang := strings.TrimSpace(string(fence.Language(source)))
		if strings.EqualFold(lang, t.lang) {
			diagram := t.compile(fence, source)
			diagram.SetBlankPreviousLines(fence.HasBlankPreviousLines())
			for _, attr := range fence.Attributes() {
				diagram.SetAttribute(attr.Name, attr.Value)
			}
			parent.ReplaceChild(parent, fence, diagram)
		}
		child = next
	}
}

func (t *DiagramTransformer) compile(fence *ast.FencedCodeBlock, source []byte) *Diagram {
	var body bytes.Buffer
	lines := fence.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		body.Write(seg.Value(source))
	}

	diagram := &Diagram{Lang: t.lang, Source: body.String()}
	res, err := t.compiler.Compile(context.Background(), diagram.Source)
	if err != nil {
		t.logger.Warn("diagram render failed", slog.String("lang", t.lang), slog.Any("err", err))
		diagram.Err = err.Error()
		return diagram
	}
	diagram.SVG = res.SVG
	diagram.Elapsed = res.Duration
	return diagram
}

// KindDiagram is the node kind of a pre-rendered diagram.
var KindDiagram = ast.NewNodeKind("Diagram")

// Diagram is a fenced diagram already compiled to SVG.
type Diagram struct {
	ast.BaseBlock
	Lang    string
	Source  string
	SVG     string
	Err     string
	Elapsed time.Duration
}

// Kind implements ast.Node.
func (d *Diagram) Kind() ast.NodeKind { return KindDiagram }

// IsRaw implements ast.Node.
func (d *Diagram) IsRaw() bool { return true }

// Dump implements ast.Node.
func (d *Diagram) Dump(source []byte, level int) {
	kv := map[string]string{
		"Lang":   d.Lang,
		"Source": fmt.Sprintf("%d bytes", len(d.Source)),
	}
	if d.Err != "" {
		kv["Err"] = d.Err
	}
	ast.DumpHelper(d, source, level, kv, nil)
}

// DiagramRenderer writes Diagram nodes as <div class="diagram">.
type DiagramRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (DiagramRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindDiagram, renderDiagram)
}

func renderDiagram(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	d := n.(*Diagram)

	_, _ = fmt.Fprintf(w, `<div class="diagram diagram-%s"`, d.Lang)
	if d.Elapsed > 0 {
		_, _ = fmt.Fprintf(w, ` data-runtime-ms="%d"`, d.Elapsed.Milliseconds())
	}
	if d.Source != "" {
		_, _ = w.WriteString(` data-source-b64="` + base64.StdEncoding.EncodeToString([]byte(d.Source)) + `"`)
	}
	_ = w.WriteByte('>')

	if d.Err != "" {
		_, _ = w.WriteString(`<div class="diagram-error">` + html.EscapeString(d.Err) + `</div>`)
	} else {
		_, _ = w.WriteString(d.SVG)
	}
	if _, err := w.WriteString("</div>\n"); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}
