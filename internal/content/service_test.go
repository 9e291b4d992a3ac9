package content_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/docsite/internal/content"
	"github.com/euforicio/docsite/internal/renderer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newService(t *testing.T, opts content.Options) (*content.Service, string) {
	t.Helper()
	dst := t.TempDir()
	copyDir(t, filepath.Join("..", "..", "testdata", "site"), dst)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := content.NewService(ctx, dst, renderer.NewService(quietLogger(), renderer.Options{}), quietLogger(), opts)
	if err != nil {
		cancel()
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		cancel()
	})
	return svc, dst
}

func TestDocumentResolvesPaths(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, content.Options{DisableWatch: true})
	ctx := context.Background()

	doc, err := svc.Document(ctx, "docs/intro")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Route != "/docs/intro" || len(doc.Anchors) != 3 {
		t.Fatalf("unexpected document %q with %d anchors", doc.Route, len(doc.Anchors))
	}
	// The tree build rendered the page first; the request must hit the cache.
	if doc.Anchors[0].ID != "h1-_docs_intro-0" {
		t.Fatalf("expected counters from the initial render, got %s", doc.Anchors[0].ID)
	}

	for _, bad := range []string{"", "../etc/passwd", "/abs.md", "docs/../../x"} {
		if _, err := svc.Document(ctx, bad); !errors.Is(err, content.ErrInvalidPath) {
			t.Fatalf("Document(%q): expected ErrInvalidPath, got %v", bad, err)
		}
	}
	if _, err := svc.Document(ctx, "nope.md"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceEmitsEventsOnFileChange(t *testing.T) {
	t.Parallel()
	svc, dst := newService(t, content.Options{})

	subCtx, subCancel := context.WithCancel(context.Background())
	t.Cleanup(subCancel)
	ch := svc.Subscribe(subCtx)

	// Give the watcher time to attach.
	time.Sleep(200 * time.Millisecond)

	introPath := filepath.Join(dst, "docs", "intro.md")
	if err := os.WriteFile(introPath, []byte("# Title\n\nHello again\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type != content.EventPageUpdated || evt.Path != "docs/intro.md" {
				continue
			}
			if evt.Route != "/docs/intro" {
				t.Fatalf("unexpected route %q", evt.Route)
			}
			doc, err := svc.Document(context.Background(), "docs/intro.md")
			if err != nil {
				t.Fatalf("Document: %v", err)
			}
			if !strings.Contains(doc.HTML, "Hello again") || len(doc.Anchors) == 0 {
				// The truncate half of the write can arrive first.
				continue
			}
			// Reloaded pages continue the counter instead of restarting it.
			if doc.Anchors[0].ID == "h1-_docs_intro-0" {
				t.Fatalf("expected continued counter after reload, got %s", doc.Anchors[0].ID)
			}
			return
		case <-timeout:
			t.Fatalf("did not receive expected pageUpdated event")
		}
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, content.Options{DisableWatch: true})

	ctx, cancel := context.WithCancel(context.Background())
	ch := svc.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func copyDir(t *testing.T, src, dst string) {
	t.Helper()
	if err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	}); err != nil {
		t.Fatalf("copyDir failed: %v", err)
	}
}
