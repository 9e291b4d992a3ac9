package commentable

import (
	"bufio"
	"bytes"
	"regexp"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// WrapperElement is the element the client-side comment component binds to.
const WrapperElement = "CommentableParagraph"

const wrapperClose = "</" + WrapperElement + ">"

// stampAttr holds the identifiers on the AST node. The name sits outside
// every goldmark attribute filter and has no data- prefix, so it is never
// rendered.
var stampAttr = []byte("commentable:stamp")

// stamp carries the open and close side identifiers separately so an
// unmatched close stays unwrapped.
type stamp struct {
	open  string
	close string
}

func stampOf(n ast.Node) (stamp, bool) {
	v, ok := n.Attribute(stampAttr)
	if !ok {
		return stamp{}, false
	}
	s, ok := v.(stamp)
	return s, ok
}

// apply writes the assigner results back onto the AST nodes.
func apply(tokens []Token) {
	for i := range tokens {
		tok := &tokens[i]
		if tok.node == nil || !tok.Assigned() {
			continue
		}
		s, _ := stampOf(tok.node)
		switch tok.Nesting {
		case Open:
			s.open = tok.CommentID
			if class, ok := tok.Attrs.Get("class"); ok {
				tok.node.SetAttributeString("class", []byte(class))
			}
		case Close:
			s.close = tok.CommentID
		default:
			continue
		}
		tok.node.SetAttribute(stampAttr, s)
	}
}

func wrapperOpen(id string) string {
	return "<" + WrapperElement + ` id="` + id + `">`
}

// wrapCommentable surrounds stamped blocks with the wrapper element and
// leaves everything else untouched.
func wrapCommentable(w util.BufWriter, source []byte, n ast.Node, entering bool, next renderer.NodeRendererFunc) (ast.WalkStatus, error) {
	s, _ := stampOf(n)

	if entering {
		if s.open == "" {
			return next(w, source, n, entering)
		}
		var buf bytes.Buffer
		bw := bufio.NewWriter(&buf)
		status, err := next(bw, source, n, entering)
		if err != nil {
			return status, err
		}
		if err := bw.Flush(); err != nil {
			return ast.WalkStop, err
		}
		_, _ = w.WriteString(wrapperOpen(s.open))
		_, _ = w.Write(ensureMarkerClass(buf.Bytes()))
		return status, nil
	}

	status, err := next(w, source, n, entering)
	if err != nil {
		return status, err
	}
	if s.close != "" {
		_, _ = w.WriteString(wrapperClose)
	}
	return status, nil
}

var classAttrPattern = regexp.MustCompile(`\sclass="([^"]*)"`)

// ensureMarkerClass makes sure the first tag in fragment lists MarkerClass in
// its class attribute.
func ensureMarkerClass(fragment []byte) []byte {
	start := bytes.IndexByte(fragment, '<')
	if start < 0 {
		return fragment
	}
	end := bytes.IndexByte(fragment[start:], '>')
	if end < 0 {
		return fragment
	}
	end += start
	tag := fragment[start:end]

	out := make([]byte, 0, len(fragment)+len(MarkerClass)+9)
	if loc := classAttrPattern.FindSubmatchIndex(tag); loc != nil {
		value := tag[loc[2]:loc[3]]
		for _, field := range bytes.Fields(value) {
			if string(field) == MarkerClass {
				return fragment
			}
		}
		insert := start + loc[3]
		out = append(out, fragment[:insert]...)
		if len(bytes.TrimSpace(value)) > 0 {
			out = append(out, ' ')
		}
		out = append(out, MarkerClass...)
		return append(out, fragment[insert:]...)
	}

	out = append(out, fragment[:end]...)
	out = append(out, ` class="`+MarkerClass+`"`...)
	return append(out, fragment[end:]...)
}
