package commentable

// MarkerClass is appended to the class attribute of every commentable block.
const MarkerClass = "comment-stub"

var allowedTags = map[string]struct{}{
	"p": {}, "ul": {}, "ol": {}, "table": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
}

// Anchor describes one identifier handed out during a scan.
type Anchor struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// Assign stamps every top-level allow-listed block in tokens with a fresh
// identifier for page. The open token gains the marker class and the
// identifier; its structurally matching close token gets the same
// identifier. Tokens that already carry the marker class are skipped.
//
// The counter for page is read from bc once and written back after the scan.
// If the stream is unbalanced the close side of a block may stay unstamped.
func Assign(tokens []Token, page PageID, bc *BuildContext) []Anchor {
	var anchors []Anchor

	bc.update(page, func(counter int) int {
		level := 0
		for i := range tokens {
			tok := &tokens[i]

			// level still reflects the depth before tok.
			if level == 0 && tok.Nesting == Open {
				if tag, ok := eligibleTag(tok); ok && !tok.hasClass(MarkerClass) {
					id := FormatID(tag, page, counter)
					counter++

					tok.addClass(MarkerClass)
					tok.CommentID = id
					stampClose(tokens, i, id)
					anchors = append(anchors, Anchor{ID: id, Tag: tag})
				}
			}

			level += int(tok.Nesting)
		}
		return counter
	})

	return anchors
}

func eligibleTag(tok *Token) (string, bool) {
	var tag string
	switch tok.Type {
	case ParagraphOpen:
		tag = "p"
	case BulletListOpen:
		tag = "ul"
	case OrderedListOpen:
		tag = "ol"
	case TableOpen:
		tag = "table"
	case HeadingOpen:
		tag = tok.Tag
	default:
		return "", false
	}
	_, ok := allowedTags[tag]
	return tag, ok
}

// stampClose scans forward from the open token at index open and stamps the
// first close token that brings the local depth back to zero and pairs with
// the open type.
func stampClose(tokens []Token, open int, id string) {
	want, ok := closeOf[tokens[open].Type]
	if !ok {
		return
	}
	depth := 1
	for j := open + 1; j < len(tokens); j++ {
		switch tokens[j].Nesting {
		case Open:
			depth++
		case Close:
			depth--
			if depth == 0 && tokens[j].Type == want {
				tokens[j].CommentID = id
				return
			}
		}
	}
}
