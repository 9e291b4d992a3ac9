package waline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/docsite/internal/waline"
)

func newServer(t *testing.T, h http.HandlerFunc) *waline.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := waline.New(srv.URL+"/", waline.Options{Lang: "en"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/token", r.URL.Path)
		var creds waline.Credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ada@example.com", creds.Email)
		writeJSON(w, http.StatusOK, map[string]any{
			"errno": 0,
			"data": map[string]any{
				"display_name": "Ada",
				"email":        "ada@example.com",
				"token":        "tok-1",
				"type":         "administrator",
				"objectId":     7,
			},
		})
	})

	user, err := c.Login(context.Background(), waline.Credentials{Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", user.Token)
	assert.Equal(t, "Ada", user.DisplayName)
	assert.Equal(t, int64(7), user.ObjectID)
}

func TestLoginWithoutToken(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"errno": 0, "data": map[string]any{"email": "x@example.com"}})
	})
	_, err := c.Login(context.Background(), waline.Credentials{Email: "x@example.com", Password: "pw"})
	assert.ErrorIs(t, err, waline.ErrNoToken)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"errno": 1000, "errmsg": "password wrong"})
	})
	_, err := c.Login(context.Background(), waline.Credentials{Email: "x@example.com", Password: "bad"})

	var apiErr *waline.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1000, apiErr.Errno)
	assert.Contains(t, err.Error(), "password wrong")
}

func TestComments(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs/intro#p-_docs_intro-1", r.URL.Query().Get("path"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		writeJSON(w, http.StatusOK, map[string]any{
			"errno": 0,
			"data": map[string]any{
				"page": 1,
				"data": []map[string]any{{"objectId": 1, "comment": "<p>nice</p>", "nick": "bob"}},
			},
		})
	})

	got, err := c.Comments(context.Background(), waline.Thread("/docs/intro", "p-_docs_intro-1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Nick)
}

func TestCommentsLegacyList(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"errno": 0, "data": []map[string]any{{"objectId": 2}, {"objectId": 3}}})
	})
	got, err := c.Comments(context.Background(), "/x")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPostComment(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errno": 401, "errmsg": "login required"})
			return
		}
		var nc waline.NewComment
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&nc))
		writeJSON(w, http.StatusOK, map[string]any{"errno": 0, "data": map[string]any{"objectId": 9, "comment": nc.Comment}})
	})

	got, err := c.PostComment(context.Background(), "tok", waline.NewComment{Path: "/x#p-_x-0", Comment: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ObjectID)

	_, err = c.PostComment(context.Background(), "other", waline.NewComment{Path: "/x", Comment: "hi"})
	assert.True(t, errors.Is(err, waline.ErrUnauthorized), err)

	_, err = c.PostComment(context.Background(), "", waline.NewComment{})
	assert.ErrorIs(t, err, waline.ErrUnauthorized)
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := waline.New("not a url", waline.Options{})
	assert.Error(t, err)
}
