// Package server provides the development HTTP server: rendered pages with
// live reload, the comment anchor API and the comment service proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/euforicio/docsite/internal/auth"
	"github.com/euforicio/docsite/internal/buildinfo"
	"github.com/euforicio/docsite/internal/config"
	"github.com/euforicio/docsite/internal/content"
	"github.com/euforicio/docsite/internal/content/tree"
	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/renderer"
	"github.com/euforicio/docsite/internal/site"
	"github.com/euforicio/docsite/internal/waline"
	"github.com/euforicio/docsite/static"
)

// CommentClient reads and writes comment threads.
type CommentClient interface {
	Comments(ctx context.Context, path string) ([]waline.Comment, error)
	PostComment(ctx context.Context, token string, nc waline.NewComment) (waline.Comment, error)
}

// Deps are the services behind the routes. Auth and Comments are nil when
// no comment server is configured; Metrics may be nil.
type Deps struct {
	Content  *content.Service
	Builder  *site.Builder
	Auth     *auth.Service
	Comments CommentClient
	Metrics  *metrics.Metrics
}

// Server wraps the HTTP server and the services it exposes.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	content    *content.Service
	builder    *site.Builder
	auth       *auth.Service
	comments   CommentClient
	metrics    *metrics.Metrics
	templates  *templateRenderer
	cfg        config.Config
}

var (
	errPathRequired        = errors.New("path is required")
	errInvalidPathEncoding = errors.New("invalid path encoding")
)

// New constructs a Server and registers its routes.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Content == nil {
		return nil, errors.New("content service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		content:   deps.Content,
		builder:   deps.Builder,
		auth:      deps.Auth,
		comments:  deps.Comments,
		metrics:   deps.Metrics,
		templates: tmpl,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)
	s.mux.Handle("HEAD /static/{path...}", staticHandler)
	s.mux.HandleFunc("GET /media/{path...}", s.handleMedia)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /page/{path...}", s.handlePageRoute)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	s.mux.HandleFunc("GET /api/tree", s.handleTree)
	s.mux.HandleFunc("GET /api/page/{path...}", s.handlePage)
	s.mux.HandleFunc("GET /api/anchors/{path...}", s.handleAnchors)
	s.mux.HandleFunc("GET /api/comments/{id}", s.handleListComments)
	s.mux.HandleFunc("POST /api/comments/{id}", s.handlePostComment)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/auth/session", s.handleSession)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /events", s.handleEvents)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware,
		requestIDMiddleware,
		csrfMiddleware,
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

// Start listens on the configured port (a free one when it is 0), optionally
// opens the browser, and blocks until ctx is canceled or serving fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	if s.cfg.Port == 0 {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return errors.New("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: /events streams for the lifetime of the tab.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(os.Stdout, "docsite server listening on %s\n", serverURL); err != nil {
			s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
		}
		errCh <- s.httpServer.Serve(listener)
	}()
	if s.cfg.AutoOpen {
		go s.openBrowserWhenReady(ctx, serverURL)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		Status   string         `json:"status"`
		Build    buildinfo.Info `json:"build"`
		Comments bool           `json:"comments"`
	}{
		Status:   "ok",
		Build:    buildinfo.Read(),
		Comments: s.comments != nil,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load content tree failed", slog.Any("err", err))
		http.Error(w, "failed to load content tree", http.StatusInternalServerError)
		return
	}

	if first := tree.Files(root); len(first) > 0 {
		target := "/page/" + first[0].RelativePath
		if index := findIndex(root); index != "" {
			target = "/page/" + index
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	s.renderTemplate(w, r, "layout", s.layoutData(root, "", pageViewData{
		Title: s.cfg.Site.Title,
		HTML:  template.HTML(`<div class="empty-state">No markdown documents were found. Add <code>.md</code> files under the root directory.</div>`),
	}, false))
}

// findIndex returns the root index page when one exists.
func findIndex(root *tree.Node) string {
	for _, child := range root.Children {
		if child.Type == tree.NodeTypeFile && strings.EqualFold(strings.TrimSuffix(child.RelativePath, filepath.Ext(child.RelativePath)), "index") {
			return child.RelativePath
		}
	}
	return ""
}

func (s *Server) handlePageRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	root, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load content tree failed", slog.Any("err", err))
		http.Error(w, "failed to load content tree", http.StatusInternalServerError)
		return
	}

	doc, err := s.content.Document(ctx, path)
	switch {
	case err == nil:
		s.renderTemplate(w, r, "layout", s.layoutData(root, path, s.pageView(root, path, doc), true))
	case errors.Is(err, content.ErrNotFound):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		s.renderTemplate(w, r, "layout", s.layoutData(root, path, pageViewData{
			Path:    path,
			Title:   titleFromPath(path) + " (missing)",
			HTML:    template.HTML(`<div class="empty-state">Document <code>` + template.HTMLEscapeString(path) + `</code> was not found.</div>`), //nolint:gosec // path is escaped
			Missing: true,
		}, false))
	case errors.Is(err, content.ErrInvalidPath):
		http.Error(w, "invalid path", http.StatusBadRequest)
	default:
		s.logger.WarnContext(ctx, "page load failed", slog.Any("err", err), slog.String("path", path))
		http.Error(w, "failed to load page", http.StatusInternalServerError)
	}
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	node, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "fetch tree failed", slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "failed to load tree")
		return
	}

	if isHTMXRequest(r) {
		active := r.URL.Query().Get("current")
		triggerHX(w, "treeUpdated", map[string]any{"active": active})
		s.renderTemplate(w, r, "tree", treeViewData{Root: node, Active: active})
		return
	}

	respondJSON(w, http.StatusOK, struct {
		GeneratedAt time.Time  `json:"generatedAt"`
		Root        *tree.Node `json:"root"`
	}{GeneratedAt: time.Now(), Root: node})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	doc, ok := s.loadDocument(w, r, path)
	if !ok {
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "raw" || format == "markdown" {
		//nolint:govet // inline struct field order optimized for readability
		respondJSON(w, http.StatusOK, struct {
			Metadata renderer.Metadata `json:"metadata"`
			Modified time.Time         `json:"modified"`
			Path     string            `json:"path"`
			Route    string            `json:"route"`
			Raw      string            `json:"raw"`
		}{Metadata: doc.Metadata, Modified: doc.Modified, Path: path, Route: doc.Route, Raw: doc.Raw})
		return
	}

	if isHTMXRequest(r) {
		root, err := s.content.CurrentTree(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "refresh tree for breadcrumbs failed", slog.Any("err", err))
		}
		page := s.pageView(root, path, doc)
		triggerHX(w, "pageLoaded", map[string]any{"path": path, "route": doc.Route, "title": page.Title})
		s.renderTemplate(w, r, "page", page)
		return
	}

	//nolint:govet // inline struct field order optimized for readability
	respondJSON(w, http.StatusOK, struct {
		Metadata renderer.Metadata `json:"metadata"`
		Modified time.Time         `json:"modified"`
		Path     string            `json:"path"`
		Route    string            `json:"route"`
		HTML     string            `json:"html"`
		Anchors  []string          `json:"anchors"`
	}{Metadata: doc.Metadata, Modified: doc.Modified, Path: path, Route: doc.Route, HTML: doc.HTML, Anchors: anchorIDs(doc)})
}

// loadDocument renders path or writes the JSON error response.
func (s *Server) loadDocument(w http.ResponseWriter, r *http.Request, path string) (renderer.Document, bool) {
	doc, err := s.content.Document(r.Context(), path)
	if err == nil {
		return doc, true
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, content.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, content.ErrInvalidPath):
		status = http.StatusBadRequest
	}
	s.logger.WarnContext(r.Context(), "load page failed", slog.Any("err", err), slog.String("path", path))
	respondError(w, status, err.Error())
	return renderer.Document{}, false
}

func anchorIDs(doc renderer.Document) []string {
	ids := make([]string, len(doc.Anchors))
	for i, a := range doc.Anchors {
		ids[i] = a.ID
	}
	return ids
}

func parseWildcardPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errPathRequired
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", errInvalidPathEncoding
	}
	path := strings.TrimSpace(decoded)
	if path == "" {
		return "", errPathRequired
	}
	return path, nil
}

func (s *Server) respondPathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPathRequired):
		respondError(w, http.StatusBadRequest, "path is required")
	case errors.Is(err, errInvalidPathEncoding):
		respondError(w, http.StatusBadRequest, "invalid path encoding")
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.render(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render template failed", slog.Any("err", err), slog.String("template", name))
		http.Error(w, "failed to render template", http.StatusInternalServerError)
	}
}

func (s *Server) layoutData(root *tree.Node, active string, page pageViewData, hasDocument bool) homeViewData {
	data := homeViewData{
		Tree:          root,
		ActivePath:    active,
		Page:          page,
		HasDocument:   hasDocument,
		Site:          s.cfg.Site,
		DarkModeFirst: s.cfg.DarkModeFirst,
		AssetVersion:  static.Version(),
	}
	if s.comments != nil {
		data.CommentAPI = "/api/comments"
	}
	return data
}

func (s *Server) pageView(root *tree.Node, path string, doc renderer.Document) pageViewData {
	title := doc.Metadata.Title
	if title == "" {
		title = titleFromPath(path)
	}
	var crumbs []breadcrumb
	if root != nil {
		crumbs = breadcrumbsFor(root, path)
	}
	return pageViewData{
		Path:        path,
		Route:       doc.Route,
		Title:       title,
		HTML:        template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
		Metadata:    doc.Metadata,
		Modified:    doc.Modified,
		Breadcrumbs: crumbs,
		Anchors:     len(doc.Anchors),
	}
}

func titleFromPath(p string) string {
	name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	name = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(name))
	if name == "" {
		return "Untitled Document"
	}
	words := strings.Fields(name)
	for i, w := range words {
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

func breadcrumbsFor(root *tree.Node, target string) []breadcrumb {
	nodes := tree.Trail(root, target)
	if len(nodes) <= 1 {
		return nil
	}
	nodes = nodes[1:]
	out := make([]breadcrumb, len(nodes))
	for i, node := range nodes {
		out[i] = breadcrumb{Title: node.Title}
		if node.Type == tree.NodeTypeFile && i != len(nodes)-1 {
			out[i].Path = node.RelativePath
		}
	}
	return out
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.content.Subscribe(ctx)
	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := sseData(evt)
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.builder == nil {
		respondError(w, http.StatusServiceUnavailable, "export not configured")
		return
	}

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		respondError(w, http.StatusBadRequest, "path parameter is required")
		return
	}
	rel, _, err := s.content.Resolve(path)
	if err != nil {
		s.logger.WarnContext(ctx, "invalid export path attempted", slog.String("path", path))
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}

	rawFormat := r.URL.Query().Get("format")
	if strings.TrimSpace(rawFormat) == "" {
		rawFormat = string(site.FormatHTML)
	}
	format, err := site.ParseFormat(rawFormat)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid format. Supported formats: html, pdf, markdown, txt")
		return
	}

	if _, err := s.content.Document(ctx, rel); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, content.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.logger.WarnContext(ctx, "export document not found", slog.Any("err", err), slog.String("path", rel))
		respondError(w, status, "document not found")
		return
	}

	filename := sanitizeFilename(rel) + site.FileExtension(format)
	w.Header().Set("Content-Type", site.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	err = s.builder.ExportPage(ctx, site.ExportPageOptions{
		RootDir: s.content.Root(),
		Path:    rel,
		Format:  format,
		Writer:  w,
	})
	if err != nil {
		// Headers are already sent; the response is truncated.
		s.logger.ErrorContext(ctx, "export failed", slog.Any("err", err), slog.String("path", rel), slog.String("format", string(format)))
	}
}

func sanitizeFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '-'
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		return "export"
	}
	return name
}

// handleMedia serves images and other non-markdown files from the content root.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawPath, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	cleanPath := filepath.Clean(filepath.FromSlash(rawPath))
	if filepath.IsAbs(cleanPath) || cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		s.logger.WarnContext(ctx, "invalid media path attempted", slog.String("path", rawPath))
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if content.IsMarkdown(cleanPath) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	root := s.content.Root()
	absPath := filepath.Join(root, cleanPath)
	if !strings.HasPrefix(absPath, root+string(filepath.Separator)) {
		http.Error(w, "Invalid path", http.StatusForbidden)
		return
	}

	info, err := os.Stat(absPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "File not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.WarnContext(ctx, "failed to stat media file", slog.Any("err", err), slog.String("path", rawPath))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	case info.IsDir():
		http.Error(w, "Path is a directory", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, absPath)
}

func (s *Server) openBrowserWhenReady(ctx context.Context, url string) {
	timer := time.NewTimer(300 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		if err := openBrowser(ctx, url); err != nil {
			s.logger.WarnContext(ctx, "auto-open failed", slog.String("url", url), slog.Any("err", err))
		}
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}
