// Package transform holds the goldmark AST transformers and code block
// wrappers used by the page renderer.
package transform

import (
	"bytes"
	"strings"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

// ClientDiagramWrapper returns a highlighting wrapper that emits
// <div class="LANG"> for fences whose language is hydrated in the browser
// (mermaid by default) and a plain <pre><code> for unhighlighted code.
func ClientDiagramWrapper(langs ...string) highlighting.WrapperRenderer {
	if len(langs) == 0 {
		langs = []string{"mermaid"}
	}
	client := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		client[strings.ToLower(l)] = struct{}{}
	}

	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		if ctx.Highlighted() {
			return
		}

		lang, _ := ctx.Language()
		name := strings.ToLower(string(bytes.TrimSpace(lang)))
		if _, ok := client[name]; ok {
			if entering {
				_, _ = w.WriteString(`<div class="` + name + `">`)
			} else {
				_, _ = w.WriteString("</div>\n")
			}
			return
		}

		if !entering {
			_, _ = w.WriteString("</code></pre>\n")
			return
		}
		_, _ = w.WriteString("<pre><code")
		if name != "" {
			_, _ = w.WriteString(` class="language-`)
			_, _ = w.Write(util.EscapeHTML(bytes.TrimSpace(lang)))
			_ = w.WriteByte('"')
		}
		_ = w.WriteByte('>')
	}
}
