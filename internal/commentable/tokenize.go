package commentable

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
)

// Tokenize flattens the block structure under doc into a token stream.
//
// Container blocks become an Open/Close pair, raw blocks (code, HTML,
// diagrams) and thematic breaks become a single Self token, and the inline
// content of a block is represented by one Inline token.
func Tokenize(doc ast.Node) []Token {
	if doc == nil {
		return nil
	}
	var tokens []Token
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		tokens = appendBlock(tokens, child)
	}
	return tokens
}

func appendBlock(tokens []Token, n ast.Node) []Token {
	if n.Type() != ast.TypeBlock {
		return tokens
	}

	openType, closeType := typesFor(n)
	tag := tagFor(n)

	if n.IsRaw() || n.Kind() == ast.KindThematicBreak {
		return append(tokens, Token{Type: Other, Nesting: Self, Tag: tag, node: n})
	}

	tokens = append(tokens, Token{
		Type:    openType,
		Nesting: Open,
		Tag:     tag,
		Attrs:   attributesOf(n),
		node:    n,
	})

	if first := n.FirstChild(); first != nil && first.Type() == ast.TypeInline {
		tokens = append(tokens, Token{Type: Inline, Nesting: Self, node: n})
	} else {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			tokens = appendBlock(tokens, child)
		}
	}

	return append(tokens, Token{Type: closeType, Nesting: Close, Tag: tag, node: n})
}

func typesFor(n ast.Node) (TokenType, TokenType) {
	switch typed := n.(type) {
	case *ast.Paragraph:
		return ParagraphOpen, ParagraphClose
	case *ast.Heading:
		return HeadingOpen, HeadingClose
	case *ast.List:
		if typed.IsOrdered() {
			return OrderedListOpen, OrderedListClose
		}
		return BulletListOpen, BulletListClose
	case *east.Table:
		return TableOpen, TableClose
	default:
		return Other, Other
	}
}

var kindTags = map[ast.NodeKind]string{
	ast.KindBlockquote:      "blockquote",
	ast.KindListItem:        "li",
	ast.KindCodeBlock:       "pre",
	ast.KindFencedCodeBlock: "pre",
	ast.KindThematicBreak:   "hr",
	east.KindTableHeader:    "thead",
	east.KindTableRow:       "tr",
	east.KindTableCell:      "td",
}

func tagFor(n ast.Node) string {
	switch typed := n.(type) {
	case *ast.Paragraph:
		return "p"
	case *ast.Heading:
		return fmt.Sprintf("h%d", typed.Level)
	case *ast.List:
		if typed.IsOrdered() {
			return "ol"
		}
		return "ul"
	case *east.Table:
		return "table"
	}
	if tag, ok := kindTags[n.Kind()]; ok {
		return tag
	}
	return strings.ToLower(n.Kind().String())
}

func attributesOf(n ast.Node) Attributes {
	raw := n.Attributes()
	if len(raw) == 0 {
		return nil
	}
	attrs := make(Attributes, 0, len(raw))
	for _, attr := range raw {
		var value string
		switch typed := attr.Value.(type) {
		case []byte:
			value = string(typed)
		case string:
			value = typed
		default:
			continue
		}
		attrs = append(attrs, Attribute{Name: string(attr.Name), Value: value})
	}
	return attrs
}
