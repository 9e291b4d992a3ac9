package transform_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/docsite/internal/renderer/d2"
	"github.com/euforicio/docsite/internal/renderer/transform"
)

type fakeCompiler struct {
	err   error
	calls int
}

func (f *fakeCompiler) Compile(_ context.Context, source string) (d2.Result, error) {
	f.calls++
	if f.err != nil {
		return d2.Result{}, f.err
	}
	return d2.Result{SVG: "<svg>" + strings.TrimSpace(source) + "</svg>"}, nil
}

func convert(t *testing.T, md goldmark.Markdown, src string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		t.Fatalf("convert: %v", err)
	}
	return buf.String()
}

func diagramMarkdown(c transform.Compiler) goldmark.Markdown {
	return goldmark.New(
		goldmark.WithParserOptions(parser.WithASTTransformers(
			util.Prioritized(transform.NewDiagramTransformer(c, "d2", nil), 100),
		)),
		goldmark.WithRendererOptions(renderer.WithNodeRenderers(
			util.Prioritized(transform.DiagramRenderer{}, 100),
		)),
	)
}

func TestDiagramTransformerReplacesFences(t *testing.T) {
	t.Parallel()
	c := &fakeCompiler{}
	out := convert(t, diagramMarkdown(c), "> ```d2\n> a -> b\n> ```\n\n```go\nx\n```\n")

	if c.calls != 1 {
		t.Fatalf("expected one compile, got %d", c.calls)
	}
	if !strings.Contains(out, `<div class="diagram diagram-d2" data-source-b64=`) {
		t.Fatalf("missing diagram wrapper: %s", out)
	}
	if !strings.Contains(out, "<svg>a -&gt; b</svg>") && !strings.Contains(out, "<svg>a -> b</svg>") {
		t.Fatalf("missing svg: %s", out)
	}
	if !strings.Contains(out, `<code class="language-go">`) {
		t.Fatalf("go fence must stay a code block: %s", out)
	}
}

func TestDiagramTransformerReportsErrors(t *testing.T) {
	t.Parallel()
	out := convert(t, diagramMarkdown(&fakeCompiler{err: errors.New("bad <shape>")}), "```d2\nx\n```\n")
	if !strings.Contains(out, `<div class="diagram-error">bad &lt;shape&gt;</div>`) {
		t.Fatalf("expected escaped error, got %s", out)
	}
}

func TestDiagramTransformerNilCompiler(t *testing.T) {
	t.Parallel()
	out := convert(t, diagramMarkdown(nil), "```d2\nx\n```\n")
	if !strings.Contains(out, `<code class="language-d2">`) {
		t.Fatalf("expected untouched fence, got %s", out)
	}
}

func TestClientDiagramWrapper(t *testing.T) {
	t.Parallel()
	md := goldmark.New(goldmark.WithExtensions(highlighting.NewHighlighting(
		highlighting.WithWrapperRenderer(transform.ClientDiagramWrapper()),
	)))
	out := convert(t, md, "```mermaid\ngraph TD;\n```\n")
	if !strings.Contains(out, `<div class="mermaid">graph TD;`) {
		t.Fatalf("expected mermaid div, got %s", out)
	}
}
