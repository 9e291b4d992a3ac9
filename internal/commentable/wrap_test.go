package commentable

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

func TestEnsureMarkerClass(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, want string
	}{
		{"no class", `<p>x`, `<p class="comment-stub">x`},
		{"other attrs", `<h2 id="intro">x`, `<h2 id="intro" class="comment-stub">x`},
		{"existing class", `<ul class="tight">`, `<ul class="tight comment-stub">`},
		{"empty class", `<p class="">`, `<p class="comment-stub">`},
		{"already marked", `<p class="a comment-stub">`, `<p class="a comment-stub">`},
		{"not a tag", `plain`, `plain`},
		{"only first tag", `<table>` + "\n" + `<thead class="x">`, `<table class="comment-stub">` + "\n" + `<thead class="x">`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, string(ensureMarkerClass([]byte(tc.in))))
		})
	}
}

func render(t *testing.T, fn renderer.NodeRendererFunc, n ast.Node, entering bool) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, err := fn(w, nil, n, entering)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	return buf.String()
}

func TestWrapCommentable(t *testing.T) {
	t.Parallel()

	fn := Chain(renderDefault, wrapCommentable)

	plain := ast.NewParagraph()
	assert.Equal(t, "<p>", render(t, fn, plain, true))
	assert.Equal(t, "</p>\n", render(t, fn, plain, false))

	stamped := ast.NewParagraph()
	stamped.SetAttribute(stampAttr, stamp{open: "p-_x-0", close: "p-_x-0"})
	assert.Equal(t, `<CommentableParagraph id="p-_x-0"><p class="comment-stub">`, render(t, fn, stamped, true))
	assert.Equal(t, "</p>\n</CommentableParagraph>", render(t, fn, stamped, false))

	openOnly := ast.NewParagraph()
	openOnly.SetAttribute(stampAttr, stamp{open: "p-_x-1"})
	assert.Equal(t, "</p>\n", render(t, fn, openOnly, false))
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	tag := func(name string) Middleware {
		return func(w util.BufWriter, source []byte, n ast.Node, entering bool, next renderer.NodeRendererFunc) (ast.WalkStatus, error) {
			_, _ = w.WriteString(name + "(")
			status, err := next(w, source, n, entering)
			_, _ = w.WriteString(")")
			return status, err
		}
	}
	base := func(w util.BufWriter, _ []byte, _ ast.Node, _ bool) (ast.WalkStatus, error) {
		_, _ = w.WriteString("base")
		return ast.WalkContinue, nil
	}

	fn := Chain(base, tag("outer"), tag("inner"))
	assert.Equal(t, "outer(inner(base))", render(t, fn, ast.NewParagraph(), true))
}
