package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/euforicio/docsite/internal/auth"
	"github.com/euforicio/docsite/internal/commentable"
	"github.com/euforicio/docsite/internal/renderer"
	"github.com/euforicio/docsite/internal/waline"
)

type postCommentRequest struct {
	Comment string `json:"comment"`
	At      string `json:"at,omitempty"`
	PID     int64  `json:"pid,omitempty"`
	RID     int64  `json:"rid,omitempty"`
}

// handleAnchors lists the commentable blocks of one page in document order.
func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	path, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}
	doc, ok := s.loadDocument(w, r, path)
	if !ok {
		return
	}
	anchors := doc.Anchors
	if anchors == nil {
		anchors = []commentable.Anchor{}
	}
	respondJSON(w, http.StatusOK, struct {
		Route   string               `json:"route"`
		Anchors []commentable.Anchor `json:"anchors"`
	}{Route: doc.Route, Anchors: anchors})
}

// thread resolves the comment path of the block named in the request: the
// page route from ?page= joined with the block id.
func (s *Server) thread(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.comments == nil {
		respondError(w, http.StatusServiceUnavailable, "comments not configured")
		return "", false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" || !commentable.ValidID(id) {
		respondError(w, http.StatusBadRequest, "invalid block id")
		return "", false
	}
	page := strings.TrimSpace(r.URL.Query().Get("page"))
	if page == "" {
		respondError(w, http.StatusBadRequest, "page parameter is required")
		return "", false
	}
	if !strings.HasPrefix(page, "/") {
		page = renderer.RoutePath(page)
	}
	return waline.Thread(page, id), true
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	path, ok := s.thread(w, r)
	if !ok {
		return
	}
	comments, err := s.comments.Comments(r.Context(), path)
	if err != nil {
		s.respondCommentError(w, r, err, path)
		return
	}
	if comments == nil {
		comments = []waline.Comment{}
	}
	respondJSON(w, http.StatusOK, struct {
		Path     string           `json:"path"`
		Comments []waline.Comment `json:"comments"`
	}{Path: path, Comments: comments})
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	path, ok := s.thread(w, r)
	if !ok {
		return
	}
	if s.auth == nil {
		respondError(w, http.StatusUnauthorized, auth.ErrNotAuthenticated.Error())
		return
	}

	var req postCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Comment) == "" {
		respondError(w, http.StatusBadRequest, "comment is required")
		return
	}

	token, err := s.auth.Token()
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	nc := waline.NewComment{
		Path:    path,
		Comment: req.Comment,
		UA:      r.UserAgent(),
		PID:     req.PID,
		RID:     req.RID,
		At:      req.At,
	}
	if user := s.auth.Session().User; user != nil {
		nc.Nick = user.DisplayName
		nc.Mail = user.Email
		nc.Link = user.URL
	}

	created, err := s.comments.PostComment(r.Context(), token, nc)
	if err != nil {
		s.respondCommentError(w, r, err, path)
		return
	}
	s.logger.InfoContext(r.Context(), "comment posted", slog.String("thread", path), slog.Int64("id", created.ObjectID))
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) respondCommentError(w http.ResponseWriter, r *http.Request, err error, path string) {
	var apiErr *waline.APIError
	switch {
	case errors.Is(err, waline.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &apiErr):
		respondError(w, http.StatusBadGateway, apiErr.Error())
	default:
		s.logger.WarnContext(r.Context(), "comment service request failed",
			slog.Any("err", err), slog.String("thread", path), slog.String("request_id", requestID(r.Context())))
		respondError(w, http.StatusBadGateway, "comment service unavailable")
	}
}
