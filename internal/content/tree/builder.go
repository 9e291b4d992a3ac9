// Package tree builds the navigation tree of a documentation root.
package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/euforicio/docsite/internal/renderer"
)

// NodeType identifies what a tree node represents.
type NodeType string

// Node type constants for directory and file entries.
const (
	NodeTypeDirectory NodeType = "directory"
	NodeTypeFile      NodeType = "file"
)

// Node represents a navigation entry (directory or markdown file).
type Node struct {
	Modified     time.Time          `json:"modified"`
	Metadata     *renderer.Metadata `json:"metadata,omitempty"`
	Name         string             `json:"name"`
	RelativePath string             `json:"relativePath"`
	Route        string             `json:"route,omitempty"`
	Slug         string             `json:"slug"`
	Type         NodeType           `json:"type"`
	Title        string             `json:"title"`
	Children     []*Node            `json:"children,omitempty"`
	Anchors      int                `json:"anchors,omitempty"`
	Size         int64              `json:"size"`
}

// Renderer renders a page so its frontmatter can title the node.
type Renderer interface {
	Render(ctx context.Context, path string, modTime time.Time, content []byte) (renderer.Document, error)
}

// Options control how the tree is constructed.
type Options struct {
	Renderer      Renderer
	ExcludeDirs   []string
	IncludeHidden bool
}

var defaultExcludedDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"venv":         {},
	".venv":        {},
	"third_party":  {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	".idea":        {},
	".vscode":      {},
	"dist":         {},
}

// Excluded reports whether a directory name is skipped by default.
func Excluded(name string) bool {
	_, ok := defaultExcludedDirs[strings.ToLower(name)]
	return ok
}

// Build walks root and returns the tree of markdown pages beneath it. With a
// Renderer every page is rendered once; callers that share the renderer's
// cache get those renders for free afterwards.
func Build(ctx context.Context, root string, opts Options) (*Node, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	b := &builder{root: absRoot, opts: opts, exclude: make(map[string]struct{})}
	for _, name := range opts.ExcludeDirs {
		if name = strings.TrimSpace(name); name != "" {
			b.exclude[strings.ToLower(name)] = struct{}{}
		}
	}

	node, err := b.dir(ctx, absRoot, "")
	if err != nil {
		return nil, err
	}
	return node, nil
}

type builder struct {
	exclude map[string]struct{}
	root    string
	opts    Options
}

func (b *builder) skipDir(name string) bool {
	if Excluded(name) {
		return true
	}
	_, ok := b.exclude[strings.ToLower(name)]
	return ok
}

func (b *builder) dir(ctx context.Context, absPath, relPath string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", absPath, err)
	}

	children := make([]*Node, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !b.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		childRel := filepath.ToSlash(filepath.Join(relPath, name))
		childAbs := filepath.Join(absPath, name)

		if entry.IsDir() {
			if b.skipDir(name) {
				continue
			}
			child, err := b.dir(ctx, childAbs, childRel)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
			continue
		}

		if !isMarkdown(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat file %s: %w", childAbs, err)
		}
		child, err := b.file(ctx, childAbs, childRel, info)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	if len(children) == 0 && relPath != "" {
		return nil, nil
	}

	sort.SliceStable(children, func(i, j int) bool {
		if children[i].Type == children[j].Type {
			return strings.ToLower(children[i].Title) < strings.ToLower(children[j].Title)
		}
		return children[i].Type == NodeTypeDirectory
	})

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat directory %s: %w", absPath, err)
	}

	name := displayName(filepath.Base(absPath))
	return &Node{
		Name:         name,
		RelativePath: relPath,
		Slug:         slugify(relPath),
		Type:         NodeTypeDirectory,
		Title:        name,
		Modified:     info.ModTime(),
		Children:     children,
	}, nil
}

func (b *builder) file(ctx context.Context, absPath, rel string, info fs.FileInfo) (*Node, error) {
	node := &Node{
		Name:         displayName(filepath.Base(rel)),
		RelativePath: rel,
		Route:        renderer.RoutePath(rel),
		Slug:         slugify(rel),
		Type:         NodeTypeFile,
		Modified:     info.ModTime(),
		Size:         info.Size(),
	}
	node.Title = node.Name

	if b.opts.Renderer == nil {
		return node, nil
	}

	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath is constructed from validated root
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", absPath, err)
	}
	doc, err := b.opts.Renderer.Render(ctx, rel, info.ModTime(), raw)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rel, err)
	}
	node.Anchors = len(doc.Anchors)
	if !doc.Metadata.IsZero() {
		meta := doc.Metadata
		node.Metadata = &meta
		if meta.Title != "" {
			node.Title = meta.Title
		}
	}
	return node, nil
}

// Files returns the file nodes under root in depth-first order.
func Files(root *Node) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Type == NodeTypeFile {
			out = append(out, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

// Trail returns the nodes from root down to the node with the given relative
// path, or nil when it is not in the tree.
func Trail(root *Node, rel string) []*Node {
	if root == nil {
		return nil
	}
	if root.RelativePath == rel && root.Type == NodeTypeFile {
		return []*Node{root}
	}
	for _, child := range root.Children {
		if trail := Trail(child, rel); trail != nil {
			return append([]*Node{root}, trail...)
		}
	}
	return nil
}

func isMarkdown(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

func displayName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.TrimSpace(name)
}

func slugify(rel string) string {
	if rel == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		part = strings.TrimSuffix(part, filepath.Ext(part))
		part = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(part, "_", " ")))
		parts[i] = strings.ReplaceAll(part, " ", "-")
	}
	return strings.Join(parts, "/")
}
