package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/euforicio/docsite/internal/waline"
)

func TestCommentThreads(t *testing.T) {
	t.Parallel()
	srv, fake := newTestServer(t, true)

	t.Run("list joins route and block id", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/comments/p-_docs_intro-1?page=/docs/intro", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Path     string           `json:"path"`
			Comments []waline.Comment `json:"comments"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode comments: %v", err)
		}
		if resp.Path != "/docs/intro#p-_docs_intro-1" {
			t.Fatalf("unexpected thread %q", resp.Path)
		}
		if len(resp.Comments) != 1 || resp.Comments[0].Nick != "ann" {
			t.Fatalf("unexpected comments %#v", resp.Comments)
		}
	})

	t.Run("page may be given as a file path", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/comments/ul-_docs_intro-2?page=docs/intro.md", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		fake.mu.Lock()
		last := fake.threads[len(fake.threads)-1]
		fake.mu.Unlock()
		if last != "/docs/intro#ul-_docs_intro-2" {
			t.Fatalf("unexpected thread %q", last)
		}
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		if rec := srv.do(t, http.MethodGet, "/api/comments/bad.id?page=/docs/intro", "", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for bad id, got %d", rec.Code)
		}
		if rec := srv.do(t, http.MethodGet, "/api/comments/p-_docs_intro-1", "", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 without page, got %d", rec.Code)
		}
	})

	t.Run("posting requires a login", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/comments/p-_docs_intro-1?page=/docs/intro", `{"comment":"hi"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("post after login uses session user", func(t *testing.T) {
		login := srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"secret"}`, nil)
		if login.Code != http.StatusOK {
			t.Fatalf("login failed with %d: %s", login.Code, login.Body.String())
		}

		rec := srv.do(t, http.MethodPost, "/api/comments/p-_docs_intro-1?page=/docs/intro", `{"comment":"looks good","pid":3,"rid":3,"at":"bob"}`, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		fake.mu.Lock()
		defer fake.mu.Unlock()
		if len(fake.posted) != 1 {
			t.Fatalf("expected one posted comment, got %d", len(fake.posted))
		}
		got := fake.posted[0]
		if got.Path != "/docs/intro#p-_docs_intro-1" || got.Nick != "Ann" || got.Mail != "ann@example.com" || got.Link != "https://ann.example.com" {
			t.Fatalf("unexpected comment %#v", got)
		}
		if got.PID != 3 || got.RID != 3 || got.At != "bob" {
			t.Fatalf("reply fields not forwarded: %#v", got)
		}
		if fake.tokens[0] != "tok-123" {
			t.Fatalf("expected session token, got %q", fake.tokens[0])
		}
	})

	t.Run("empty comment", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/comments/p-_docs_intro-1?page=/docs/intro", `{"comment":"  "}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("upstream errors", func(t *testing.T) {
		fake.setErr(&waline.APIError{Status: 200, Errno: 1000, Message: "spam"})
		rec := srv.do(t, http.MethodGet, "/api/comments/p-_docs_intro-1?page=/docs/intro", "", nil)
		if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "spam") {
			t.Fatalf("expected 502 with upstream message, got %d: %s", rec.Code, rec.Body.String())
		}

		fake.setErr(waline.ErrUnauthorized)
		rec = srv.do(t, http.MethodPost, "/api/comments/p-_docs_intro-1?page=/docs/intro", `{"comment":"again"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rec.Code)
		}
		fake.setErr(nil)
	})
}

func TestAuthEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, true)

	session := func(t *testing.T) sessionResponse {
		t.Helper()
		rec := srv.do(t, http.MethodGet, "/api/auth/session", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("session returned %d", rec.Code)
		}
		var resp sessionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		return resp
	}

	if st := session(t); st.LoggedIn || st.Server != "https://comments.example.com" {
		t.Fatalf("unexpected initial session %#v", st)
	}

	if rec := srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"not-an-email","password":"secret"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid email, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"wrong"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for wrong password, got %d", rec.Code)
	}

	rec := srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"secret","remember":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "tok-123") {
		t.Fatalf("token leaked to the browser: %s", rec.Body.String())
	}

	st := session(t)
	if !st.LoggedIn || !st.IsAdmin || st.User == nil || st.User.DisplayName != "Ann" {
		t.Fatalf("unexpected session after login %#v", st)
	}

	if rec := srv.do(t, http.MethodPost, "/api/auth/refresh", "", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501 for refresh, got %d", rec.Code)
	}

	if rec := srv.do(t, http.MethodPost, "/api/auth/logout", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for logout, got %d", rec.Code)
	}
	if st := session(t); st.LoggedIn || st.User != nil {
		t.Fatalf("session should be cleared, got %#v", st)
	}
}
