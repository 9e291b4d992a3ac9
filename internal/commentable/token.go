package commentable

import (
	"strings"

	"github.com/yuin/goldmark/ast"
)

// TokenType discriminates the block constructs the assigner cares about.
// Everything outside the allow-list collapses into Other.
type TokenType uint8

// Token types. Open and close variants are paired through closeOf.
const (
	Other TokenType = iota
	Inline
	ParagraphOpen
	ParagraphClose
	BulletListOpen
	BulletListClose
	OrderedListOpen
	OrderedListClose
	HeadingOpen
	HeadingClose
	TableOpen
	TableClose
)

var typeNames = [...]string{
	Other:            "other",
	Inline:           "inline",
	ParagraphOpen:    "paragraph_open",
	ParagraphClose:   "paragraph_close",
	BulletListOpen:   "bullet_list_open",
	BulletListClose:  "bullet_list_close",
	OrderedListOpen:  "ordered_list_open",
	OrderedListClose: "ordered_list_close",
	HeadingOpen:      "heading_open",
	HeadingClose:     "heading_close",
	TableOpen:        "table_open",
	TableClose:       "table_close",
}

func (t TokenType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// closeOf pairs every allow-listed open type with its close counterpart.
var closeOf = map[TokenType]TokenType{
	ParagraphOpen:   ParagraphClose,
	BulletListOpen:  BulletListClose,
	OrderedListOpen: OrderedListClose,
	HeadingOpen:     HeadingClose,
	TableOpen:       TableClose,
}

// Nesting is the depth delta a token contributes.
type Nesting int8

// Nesting values.
const (
	Close Nesting = -1
	Self  Nesting = 0
	Open  Nesting = 1
)

// Attribute is a single name/value pair on an open token.
type Attribute struct {
	Name  string
	Value string
}

// Attributes keeps attributes in insertion order.
type Attributes []Attribute

// Get returns the value of the named attribute.
func (a Attributes) Get(name string) (string, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

// Set replaces the named attribute or appends it.
func (a *Attributes) Set(name, value string) {
	for i := range *a {
		if (*a)[i].Name == name {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Attribute{Name: name, Value: value})
}

// Token is one element of the flattened block stream of a page.
type Token struct {
	Attrs     Attributes
	Tag       string
	CommentID string
	Type      TokenType
	Nesting   Nesting

	node ast.Node
}

// NewToken builds a detached token. Tokens produced by Tokenize are
// additionally linked to the AST node they came from.
func NewToken(typ TokenType, nesting Nesting, tag string) Token {
	return Token{Type: typ, Nesting: nesting, Tag: tag}
}

// Assigned reports whether the assigner stamped a comment identifier.
func (t Token) Assigned() bool {
	return t.CommentID != ""
}

// Node returns the AST node behind the token, or nil for detached tokens.
func (t Token) Node() ast.Node {
	return t.node
}

func (t Token) hasClass(class string) bool {
	value, ok := t.Attrs.Get("class")
	if !ok {
		return false
	}
	for _, field := range strings.Fields(value) {
		if field == class {
			return true
		}
	}
	return false
}

func (t *Token) addClass(class string) {
	value, ok := t.Attrs.Get("class")
	if ok && strings.TrimSpace(value) != "" {
		t.Attrs.Set("class", value+" "+class)
		return
	}
	t.Attrs.Set("class", class)
}
