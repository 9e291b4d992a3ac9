// Package content loads markdown pages from the site root, keeps the
// navigation tree current and notifies subscribers when files change.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/docsite/internal/content/tree"
	"github.com/euforicio/docsite/internal/renderer"
)

// Event types sent to subscribers.
const (
	EventTreeUpdated = "treeUpdated"
	EventDeleted     = "deleted"
	EventPageUpdated = "pageUpdated"
	EventUnknown     = "unknown"
)

var (
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when the page does not exist.
	ErrNotFound = errors.New("document not found")
)

// Event describes change notifications emitted to subscribers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Route     string    `json:"route,omitempty"`
}

// Renderer converts a page; *renderer.Service satisfies it.
type Renderer interface {
	tree.Renderer
	Invalidate(path string)
}

// Service serves rendered pages from the root directory. Edits on disk
// invalidate the render cache, so the next request re-renders the page and
// its comment anchors continue from the previous counter.
type Service struct {
	ctx           context.Context
	logger        *slog.Logger
	watcher       *fsnotify.Watcher
	renderer      Renderer
	cancel        context.CancelFunc
	tree          atomic.Pointer[tree.Node]
	subscribers   map[uint64]chan Event
	root          string
	subCounter    atomic.Uint64
	subsMu        sync.RWMutex
	rebuildMu     sync.Mutex
	includeHidden bool
	watch         bool
}

// Options configures the content service.
type Options struct {
	IncludeHidden bool
	// DisableWatch skips the fsnotify watcher; the tree is built once.
	DisableWatch bool
}

// NewService builds the initial tree rooted at root and starts watching it.
func NewService(parentCtx context.Context, root string, r Renderer, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if r == nil {
		return nil, errors.New("renderer must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		ctx:           ctx,
		cancel:        cancel,
		root:          absRoot,
		renderer:      r,
		includeHidden: opts.IncludeHidden,
		watch:         !opts.DisableWatch,
		logger:        logger.With("component", "content"),
		subscribers:   make(map[uint64]chan Event),
	}

	if !svc.rebuildTree(ctx) {
		cancel()
		return nil, fmt.Errorf("build content tree for %s", absRoot)
	}
	if svc.watch {
		if err := svc.startWatcher(); err != nil {
			cancel()
			return nil, err
		}
	}
	return svc, nil
}

// Root returns the absolute content root.
func (s *Service) Root() string {
	return s.root
}

// Close stops the watcher and closes all subscriber channels.
func (s *Service) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// CurrentTree returns the latest tree snapshot.
func (s *Service) CurrentTree(ctx context.Context) (*tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.tree.Load()
	if n == nil {
		return nil, errors.New("tree not initialized")
	}
	return n, nil
}

// Document loads and renders the page at relPath. The .md extension is
// optional.
func (s *Service) Document(ctx context.Context, relPath string) (renderer.Document, error) {
	if err := ctx.Err(); err != nil {
		return renderer.Document{}, err
	}

	rel, abs, err := s.Resolve(relPath)
	if err != nil {
		return renderer.Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return renderer.Document{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return renderer.Document{}, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return renderer.Document{}, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, rel)
	}

	raw, err := os.ReadFile(abs) //nolint:gosec // abs is validated against root directory
	if err != nil {
		return renderer.Document{}, fmt.Errorf("read document: %w", err)
	}
	return s.renderer.Render(ctx, rel, info.ModTime(), raw)
}

// Resolve validates a root-relative page path and returns its normalized
// slash form together with the absolute file path.
func (s *Service) Resolve(relPath string) (string, string, error) {
	clean := filepath.ToSlash(filepath.Clean(strings.TrimSpace(relPath)))
	switch {
	case clean == "" || clean == ".":
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	case filepath.IsAbs(clean) || strings.HasPrefix(clean, "/") || filepath.VolumeName(clean) != "":
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}

	if !IsMarkdown(clean) {
		clean += ".md"
	}

	abs := filepath.Join(s.root, filepath.FromSlash(clean))
	back, err := filepath.Rel(s.root, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(os.PathSeparator)) {
		return "", "", fmt.Errorf("%w: %q escapes root", ErrInvalidPath, relPath)
	}
	return clean, abs, nil
}

// Subscribe registers for change events. The channel closes when ctx or the
// service is done.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = ch
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.subsMu.Lock()
		if sub, ok := s.subscribers[id]; ok {
			close(sub)
			delete(s.subscribers, id)
		}
		s.subsMu.Unlock()
	}()

	return ch
}

func (s *Service) rebuildTree(ctx context.Context) bool {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	node, err := tree.Build(ctx, s.root, tree.Options{Renderer: s.renderer, IncludeHidden: s.includeHidden})
	if err != nil {
		s.logger.Error("build tree failed", slog.Any("err", err))
		return false
	}
	s.tree.Store(node)
	return true
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	if err := s.watchRecursive(s.root); err != nil {
		return err
	}
	go s.runWatcher()
	return nil
}

func (s *Service) runWatcher() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}

	rel := s.relativePath(event.Name)
	op := event.Op
	markdown := IsMarkdown(event.Name)
	s.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", op.String()))

	if markdown && op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		// The render cache is keyed by the root-relative path.
		s.renderer.Invalidate(rel)
	}

	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
		}
	}

	kind := classifyEvent(event.Name, op, markdown)
	if !s.rebuildTree(s.ctx) && (kind == EventTreeUpdated || kind == EventDeleted) {
		s.logger.Warn("skipping tree broadcast due to rebuild failure", slog.String("path", rel))
		return
	}

	evt := Event{Type: kind, Path: rel, Timestamp: time.Now()}
	if markdown {
		evt.Route = renderer.RoutePath(rel)
	}
	s.broadcast(evt)
}

func (s *Service) broadcast(evt Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			// drop event when subscriber lags
		}
	}
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && (tree.Excluded(d.Name()) || (!s.includeHidden && strings.HasPrefix(d.Name(), "."))) {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func classifyEvent(path string, op fsnotify.Op, markdown bool) string {
	switch {
	case op&fsnotify.Remove != 0:
		if !markdown {
			return EventTreeUpdated
		}
		// Editors that save by replace emit Remove for a file that still exists.
		if _, err := os.Stat(path); err == nil {
			return EventPageUpdated
		}
		return EventDeleted
	case op&fsnotify.Rename != 0:
		return EventTreeUpdated
	case op&(fsnotify.Write|fsnotify.Create) != 0:
		if markdown {
			return EventPageUpdated
		}
		return EventTreeUpdated
	default:
		return EventUnknown
	}
}

// IsMarkdown reports whether path has a markdown extension.
func IsMarkdown(path string) bool {
	name := strings.ToLower(path)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}
