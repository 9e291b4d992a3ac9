package transform

import (
	"path"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var docPathKey = parser.NewContextKey()

// WithDocPath records the root-relative path of the page being converted so
// relative links can be resolved against its directory.
func WithDocPath(pc parser.Context, rel string) {
	pc.Set(docPathKey, rel)
}

// Links rewrites links to markdown files into /page/ routes and relative
// image sources into /media/ routes. With Static set the output mirrors the
// content layout instead: page links point at sibling .html files and
// destinations stay relative to the page.
type Links struct {
	Static bool
}

// Transform implements parser.ASTTransformer.
func (l Links) Transform(doc *ast.Document, _ text.Reader, pc parser.Context) {
	rel, _ := pc.Get(docPathKey).(string)
	dir := path.Dir(rel)
	if l.Static {
		staticLinks(doc, strings.Repeat("../", strings.Count(rel, "/")))
		return
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			if dest := string(typed.Destination); isPageLink(dest) {
				typed.Destination = []byte("/page/" + resolve(dest, dir))
			}
		case *ast.Image:
			if dest := string(typed.Destination); isLocalAsset(dest) {
				typed.Destination = []byte("/media/" + resolve(dest, dir))
			}
		}
		return ast.WalkContinue, nil
	})
}

func staticLinks(doc *ast.Document, up string) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			if dest := string(typed.Destination); isPageLink(dest) {
				target, frag, hasFrag := strings.Cut(dest, "#")
				target = strings.TrimSuffix(target, path.Ext(target)) + ".html"
				if hasFrag {
					target += "#" + frag
				}
				typed.Destination = []byte(fromRoot(target, up))
			}
		case *ast.Image:
			if dest := string(typed.Destination); isLocalAsset(dest) {
				typed.Destination = []byte(fromRoot(dest, up))
			}
		}
		return ast.WalkContinue, nil
	})
}

// fromRoot turns a root-absolute destination into one relative to the page.
func fromRoot(dest, up string) string {
	if !strings.HasPrefix(dest, "/") {
		return dest
	}
	return up + strings.TrimPrefix(dest, "/")
}

func isExternal(dest string) bool {
	return strings.HasPrefix(dest, "http://") ||
		strings.HasPrefix(dest, "https://") ||
		strings.HasPrefix(dest, "mailto:") ||
		strings.HasPrefix(dest, "data:")
}

func isPageLink(dest string) bool {
	if dest == "" || isExternal(dest) || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/page/") {
		return false
	}
	target, _, _ := strings.Cut(dest, "#")
	return strings.HasSuffix(target, ".md") || strings.HasSuffix(target, ".markdown")
}

func isLocalAsset(dest string) bool {
	if dest == "" || isExternal(dest) {
		return false
	}
	return !strings.HasPrefix(dest, "/media/") && !strings.HasPrefix(dest, "/static/")
}

// resolve joins dest onto dir and strips the leading slash. Absolute
// destinations are taken relative to the content root.
func resolve(dest, dir string) string {
	if !strings.HasPrefix(dest, "/") {
		if dir != "" && dir != "." {
			dest = path.Join(dir, dest)
		}
		dest = path.Clean(dest)
	}
	return strings.TrimPrefix(dest, "/")
}
