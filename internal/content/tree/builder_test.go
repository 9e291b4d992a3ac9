package tree_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/euforicio/docsite/internal/content/tree"
	"github.com/euforicio/docsite/internal/renderer"
)

func sampleRoot() string {
	return filepath.Join("..", "..", "..", "testdata", "site")
}

func TestBuildGeneratesTreeWithMetadata(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(nil, renderer.Options{})

	node, err := tree.Build(context.Background(), sampleRoot(), tree.Options{Renderer: svc})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if node.Type != tree.NodeTypeDirectory {
		t.Fatalf("expected root to be directory, got %s", node.Type)
	}

	files := tree.Files(node)
	byPath := make(map[string]*tree.Node, len(files))
	for _, f := range files {
		byPath[f.RelativePath] = f
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 pages, got %d: %v", len(files), byPath)
	}
	if _, ok := byPath[".drafts/secret.md"]; ok {
		t.Fatalf("hidden directory must be skipped")
	}

	index := byPath["index.md"]
	if index == nil || index.Title != "Welcome" || index.Metadata == nil {
		t.Fatalf("expected index titled from frontmatter, got %#v", index)
	}
	if index.Route != "/index" {
		t.Fatalf("unexpected route %q", index.Route)
	}

	intro := byPath["docs/intro.md"]
	if intro == nil || intro.Anchors != 3 {
		t.Fatalf("expected intro with 3 anchors, got %#v", intro)
	}

	advanced := byPath["guides/advanced_usage.md"]
	if advanced == nil || advanced.Title != "advanced usage" || advanced.Slug != "guides/advanced-usage" {
		t.Fatalf("unexpected advanced node %#v", advanced)
	}

	if node.Children[0].Type != tree.NodeTypeDirectory {
		t.Fatalf("directories must sort first")
	}
	if _, err := json.Marshal(node); err != nil {
		t.Fatalf("tree must encode as JSON: %v", err)
	}
}

func TestBuildWithoutRenderer(t *testing.T) {
	t.Parallel()
	node, err := tree.Build(context.Background(), sampleRoot(), tree.Options{ExcludeDirs: []string{"guides"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	files := tree.Files(node)
	if len(files) != 2 {
		t.Fatalf("expected 2 pages outside guides, got %d", len(files))
	}
	for _, f := range files {
		if f.Metadata != nil || f.Anchors != 0 {
			t.Fatalf("no renderer means no metadata: %#v", f)
		}
	}
}

func TestTrail(t *testing.T) {
	t.Parallel()
	node, err := tree.Build(context.Background(), sampleRoot(), tree.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	trail := tree.Trail(node, "guides/getting-started.md")
	if len(trail) != 3 {
		t.Fatalf("expected root > guides > page, got %d nodes", len(trail))
	}
	if trail[1].RelativePath != "guides" {
		t.Fatalf("unexpected middle node %q", trail[1].RelativePath)
	}
	if tree.Trail(node, "missing.md") != nil {
		t.Fatalf("expected nil trail for unknown page")
	}
}

func TestBuildRejectsFileRoot(t *testing.T) {
	t.Parallel()
	if _, err := tree.Build(context.Background(), filepath.Join(sampleRoot(), "index.md"), tree.Options{}); err == nil {
		t.Fatalf("expected error for file root")
	}
}
