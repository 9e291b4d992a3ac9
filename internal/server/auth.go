package server

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/euforicio/docsite/internal/auth"
	"github.com/euforicio/docsite/internal/waline"
)

type sessionResponse struct {
	User     *waline.User `json:"user"`
	Role     auth.Role    `json:"role,omitempty"`
	Server   string       `json:"server,omitempty"`
	LoggedIn bool         `json:"isLoggedIn"`
	IsAdmin  bool         `json:"isAdmin"`
}

func (s *Server) sessionView() sessionResponse {
	st := s.auth.Session()
	if st.User != nil {
		st.User.Token = ""
	}
	return sessionResponse{
		User:     st.User,
		Role:     st.Role,
		Server:   s.auth.ServerConfig().ServerURL,
		LoggedIn: st.LoggedIn,
		IsAdmin:  st.IsAdmin(),
	}
}

func (s *Server) requireAuth(w http.ResponseWriter) bool {
	if s.auth == nil {
		respondError(w, http.StatusServiceUnavailable, "comments not configured")
		return false
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w) {
		return
	}
	var creds auth.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, _, err := s.auth.Login(r.Context(), creds)
	var verrs validation.Errors
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, s.sessionView())
	case errors.As(err, &verrs):
		respondInvalid(w, "invalid credentials", verrs)
	case errors.Is(err, waline.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.WarnContext(r.Context(), "login request failed", slog.Any("err", err), slog.String("request_id", requestID(r.Context())))
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w) {
		return
	}
	if err := s.auth.Logout(); err != nil {
		s.logger.ErrorContext(r.Context(), "logout failed", slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	respondJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.auth == nil {
		respondJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	respondJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w) {
		return
	}
	token, err := s.auth.RefreshToken(r.Context())
	switch {
	case errors.Is(err, auth.ErrRefreshUnsupported):
		respondError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"refreshed": token != ""})
	}
}
