package commentable

import (
	"strconv"
	"strings"
	"sync"
)

// PageID is a routing path reduced to the identifier alphabet [A-Za-z0-9_-].
type PageID string

// UnknownPage is used when the host pipeline does not supply a page path.
const UnknownPage PageID = "unknown-page"

// NewPageID normalizes a routing path such as "/docs/intro" into "_docs_intro".
func NewPageID(routePath string) PageID {
	if routePath == "" {
		return UnknownPage
	}
	return PageID(strings.Map(func(r rune) rune {
		if isIDRune(r) {
			return r
		}
		return '_'
	}, routePath))
}

func isIDRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// ValidID reports whether id only uses the identifier alphabet, so it can be
// joined to a route without escaping.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !isIDRune(r) {
			return false
		}
	}
	return true
}

// FormatID renders the block identifier "{tag}-{page}-{counter}".
func FormatID(tag string, page PageID, counter int) string {
	return tag + "-" + string(page) + "-" + strconv.Itoa(counter)
}

// BuildContext owns the per-page counters of one build. A static build uses
// a fresh context; the dev server keeps one for the lifetime of the process
// so re-rendered pages continue where they left off.
type BuildContext struct {
	counters map[PageID]int
	sources  map[PageID]string
	mu       sync.Mutex
}

// NewBuildContext returns an empty context.
func NewBuildContext() *BuildContext {
	return &BuildContext{
		counters: make(map[PageID]int),
		sources:  make(map[PageID]string),
	}
}

// Counter returns the next counter value for page.
func (c *BuildContext) Counter(page PageID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[page]
}

// Pages returns the number of pages that have been assigned identifiers.
func (c *BuildContext) Pages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counters)
}

// Claim records that routePath produced page. It returns the previously
// recorded path when a different route already normalized to the same
// identity; the caller decides how to report it.
func (c *BuildContext) Claim(page PageID, routePath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.sources[page]
	if !ok {
		c.sources[page] = routePath
		return "", false
	}
	return prev, prev != routePath
}

// update hands fn the current counter for page and stores what it returns.
// The lock is held for the whole call so two renders of the same page never
// read the same starting value.
func (c *BuildContext) update(page PageID, fn func(counter int) int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(c.counters[page])
	if next < c.counters[page] {
		return
	}
	c.counters[page] = next
}
