package commentable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPageID(t *testing.T) {
	t.Parallel()

	cases := map[string]PageID{
		"":                  UnknownPage,
		"/docs/intro":       "_docs_intro",
		"/a-b":              "_a-b",
		"/guides/café tips": "_guides_caf__tips",
		"/v1.2/notes":       "_v1_2_notes",
	}
	for in, want := range cases {
		assert.Equalf(t, want, NewPageID(in), "NewPageID(%q)", in)
	}
}

func TestBuildContextClaim(t *testing.T) {
	t.Parallel()

	bc := NewBuildContext()
	_, collided := bc.Claim("_a_b", "/a/b")
	assert.False(t, collided)

	_, collided = bc.Claim("_a_b", "/a/b")
	assert.False(t, collided, "same route re-rendered")

	prev, collided := bc.Claim("_a_b", "/a_b")
	assert.True(t, collided)
	assert.Equal(t, "/a/b", prev)
}

func TestBuildContextConcurrentPages(t *testing.T) {
	t.Parallel()

	bc := NewBuildContext()
	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range Assign(append(para(), para()...), "_shared", bc) {
				ids <- a.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], id)
		seen[id] = true
	}
	assert.Len(t, seen, 32)
	assert.Equal(t, 32, bc.Counter("_shared"))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(FormatID("p", NewPageID("/docs/intro"), 3)))
	assert.True(t, ValidID("h1-unknown-page-0"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("p-x#1"))
	assert.False(t, ValidID("../etc"))
}
