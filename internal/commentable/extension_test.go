package commentable

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

func newMarkdown(bc *BuildContext) goldmark.Markdown {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM, New("", bc, logger)),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}

func convert(t *testing.T, md goldmark.Markdown, routePath, src string) (string, []Anchor) {
	t.Helper()
	pc := parser.NewContext()
	WithPagePath(pc, routePath)
	var buf bytes.Buffer
	require.NoError(t, md.Convert([]byte(src), &buf, parser.WithContext(pc)))
	return buf.String(), Anchors(pc)
}

func ids(anchors []Anchor) []string {
	out := make([]string, len(anchors))
	for i, a := range anchors {
		out[i] = a.ID
	}
	return out
}

func TestExtensionAssignsInDocumentOrder(t *testing.T) {
	t.Parallel()

	md := newMarkdown(NewBuildContext())
	out, anchors := convert(t, md, "/docs/intro", "# Title\n\nHello\n\n- a\n- b\n")

	assert.Equal(t, []string{"h1-_docs_intro-0", "p-_docs_intro-1", "ul-_docs_intro-2"}, ids(anchors))
	assert.Contains(t, out, `<CommentableParagraph id="h1-_docs_intro-0"><h1 class="comment-stub">Title</h1>`+"\n"+`</CommentableParagraph>`)
	assert.Contains(t, out, `<CommentableParagraph id="p-_docs_intro-1"><p class="comment-stub">Hello</p>`+"\n"+`</CommentableParagraph>`)
	assert.Contains(t, out, `<CommentableParagraph id="ul-_docs_intro-2"><ul class="comment-stub">`)
	assert.True(t, strings.HasSuffix(out, "</ul>\n</CommentableParagraph>"), out)
}

func TestExtensionContinuesCounterOnRerender(t *testing.T) {
	t.Parallel()

	md := newMarkdown(NewBuildContext())
	src := "# Title\n\nHello\n\n- a\n- b\n"
	_, _ = convert(t, md, "/docs/intro", src)
	_, anchors := convert(t, md, "/docs/intro", src)

	assert.Equal(t, []string{"h1-_docs_intro-3", "p-_docs_intro-4", "ul-_docs_intro-5"}, ids(anchors))
}

func TestExtensionFreshContextRestarts(t *testing.T) {
	t.Parallel()

	src := "Hello\n"
	_, first := convert(t, newMarkdown(NewBuildContext()), "/docs/intro", src)
	_, second := convert(t, newMarkdown(NewBuildContext()), "/docs/intro", src)
	assert.Equal(t, ids(first), ids(second))
}

func TestExtensionLeavesNestedBlocksAlone(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"| name | note |",
		"| ---- | ---- |",
		"| a    | b    |",
		"",
		"> quoted",
		"",
		"- loose",
		"",
		"- list",
		"",
	}, "\n")

	out, anchors := convert(t, newMarkdown(NewBuildContext()), "/t", src)

	assert.Equal(t, []string{"table-_t-0", "ul-_t-1"}, ids(anchors))
	assert.Equal(t, 2, strings.Count(out, "<CommentableParagraph"))
	assert.Equal(t, 2, strings.Count(out, "</CommentableParagraph>"))
	assert.Equal(t, 2, strings.Count(out, MarkerClass))
	assert.Contains(t, out, "<td>b</td>")
	assert.Contains(t, out, "<blockquote>\n<p>quoted</p>\n</blockquote>")
	assert.Contains(t, out, "<li>\n<p>loose</p>\n</li>")
}

func TestExtensionWithoutPagePath(t *testing.T) {
	t.Parallel()

	md := newMarkdown(NewBuildContext())
	var buf bytes.Buffer
	require.NoError(t, md.Convert([]byte("Hi\n"), &buf))
	assert.Contains(t, buf.String(), `id="p-unknown-page-0"`)
}

func TestExtensionRespectsExistingMarker(t *testing.T) {
	t.Parallel()

	md := goldmark.New(
		goldmark.WithParserOptions(parser.WithAttribute()),
		goldmark.WithExtensions(New("", nil, nil)),
	)
	out, anchors := convert(t, md, "/x", "# Done {.comment-stub}\n\n## Fresh\n")

	assert.Equal(t, []string{"h2-_x-0"}, ids(anchors))
	assert.Contains(t, out, `<h1 class="comment-stub">Done</h1>`)
	assert.NotContains(t, out, `id="h1-`)
}

func TestExtensionUntouchedOutputWithoutBlocks(t *testing.T) {
	t.Parallel()

	plain := goldmark.New(goldmark.WithExtensions(extension.GFM))
	src := "```go\nfmt.Println()\n```\n\n---\n"

	var want bytes.Buffer
	require.NoError(t, plain.Convert([]byte(src), &want))

	got, anchors := convert(t, newMarkdown(NewBuildContext()), "/code", src)
	assert.Empty(t, anchors)
	assert.Equal(t, want.String(), got)
}

func TestExtensionWrapsRegardlessOfExtensionOrder(t *testing.T) {
	t.Parallel()

	src := "# Title\n\nHello\n\n| a |\n|---|\n| b |\n"
	orders := map[string]func() goldmark.Markdown{
		"gfm first": func() goldmark.Markdown {
			return goldmark.New(goldmark.WithExtensions(extension.GFM, New("", NewBuildContext(), nil)))
		},
		"gfm last": func() goldmark.Markdown {
			return goldmark.New(goldmark.WithExtensions(New("", NewBuildContext(), nil), extension.GFM))
		},
	}
	for name, build := range orders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			out, anchors := convert(t, build(), "/docs/intro", src)

			require.Equal(t, []string{"h1-_docs_intro-0", "p-_docs_intro-1", "table-_docs_intro-2"}, ids(anchors))
			assert.Contains(t, out, `<CommentableParagraph id="h1-_docs_intro-0"><h1 class="comment-stub">Title</h1>`)
			assert.Contains(t, out, `<CommentableParagraph id="p-_docs_intro-1"><p class="comment-stub">Hello</p>`)
			assert.Contains(t, out, `<CommentableParagraph id="table-_docs_intro-2"><table class="comment-stub">`)
			assert.True(t, strings.HasSuffix(out, "</table>\n</CommentableParagraph>"), out)
			assert.Equal(t, 3, strings.Count(out, "</CommentableParagraph>"))
		})
	}
}
