// Package waline is a small client for Waline-compatible comment servers.
package waline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNoToken is returned when a login response carries no token.
	ErrNoToken = errors.New("no token received")
	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// User is the account returned by the token endpoint.
type User struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	URL         string `json:"url"`
	Token       string `json:"token,omitempty"`
	Avatar      string `json:"avatar"`
	MailMD5     string `json:"mailMd5"`
	ObjectID    int64  `json:"objectId"`
	Type        string `json:"type"`
}

// Comment is one entry of a thread.
type Comment struct {
	ObjectID   int64     `json:"objectId"`
	Comment    string    `json:"comment"`
	Orig       string    `json:"orig,omitempty"`
	Nick       string    `json:"nick"`
	Link       string    `json:"link,omitempty"`
	Avatar     string    `json:"avatar,omitempty"`
	Type       string    `json:"type,omitempty"`
	Time       int64     `json:"time"`
	PID        int64     `json:"pid,omitempty"`
	RID        int64     `json:"rid,omitempty"`
	Children   []Comment `json:"children,omitempty"`
	InsertedAt string    `json:"insertedAt,omitempty"`
}

// NewComment is the body posted to create a comment.
type NewComment struct {
	Path    string `json:"url"`
	Comment string `json:"comment"`
	Nick    string `json:"nick,omitempty"`
	Mail    string `json:"mail,omitempty"`
	Link    string `json:"link,omitempty"`
	UA      string `json:"ua,omitempty"`
	PID     int64  `json:"pid,omitempty"`
	RID     int64  `json:"rid,omitempty"`
	At      string `json:"at,omitempty"`
}

// Credentials identify a comment service account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// APIError is a non-zero errno reported by the server.
type APIError struct {
	Status  int
	Errno   int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("comment server error %d (http %d)", e.Errno, e.Status)
	}
	return fmt.Sprintf("comment server error %d: %s", e.Errno, e.Message)
}

// Options configure a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Lang       string
	Timeout    time.Duration
}

// Client talks to one comment server.
type Client struct {
	hc     *http.Client
	logger *slog.Logger
	base   string
	lang   string
}

// New returns a client for serverURL.
func New(serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid comment server url %q", serverURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hc:     hc,
		logger: logger.With("component", "waline"),
		base:   strings.TrimRight(u.String(), "/"),
		lang:   opts.Lang,
	}, nil
}

// ServerURL returns the normalized server address.
func (c *Client) ServerURL() string { return c.base }

// Thread returns the comment path of one block: the page route with the block
// identifier as fragment.
func Thread(route, blockID string) string {
	if blockID == "" {
		return route
	}
	return route + "#" + blockID
}

// Login exchanges credentials for a token. The returned user carries the
// token as well.
func (c *Client) Login(ctx context.Context, creds Credentials) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/api/token", nil, "", creds, &user); err != nil {
		return User{}, err
	}
	if user.Token == "" {
		return User{}, ErrNoToken
	}
	return user, nil
}

// Comments lists the comments of path.
func (c *Client) Comments(ctx context.Context, path string) ([]Comment, error) {
	q := url.Values{"path": {path}}
	if c.lang != "" {
		q.Set("lang", c.lang)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/comment", q, "", nil, &raw); err != nil {
		return nil, err
	}
	return decodeComments(raw)
}

// PostComment creates a comment as the user owning token.
func (c *Client) PostComment(ctx context.Context, token string, nc NewComment) (Comment, error) {
	if token == "" {
		return Comment{}, ErrUnauthorized
	}
	var out Comment
	if err := c.do(ctx, http.MethodPost, "/api/comment", nil, token, nc, &out); err != nil {
		return Comment{}, err
	}
	return out, nil
}

type envelope struct {
	Errno  int             `json:"errno"`
	Errmsg string          `json:"errmsg"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, token string, in, out any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("comment server request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return statusError(resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Errmsg)
	}
	if env.Errno != 0 || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Errno: env.Errno, Message: env.Errmsg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func statusError(status int, msg string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return &APIError{Status: status, Message: msg}
}

// decodeComments accepts both the paged object of newer servers and the
// bare list returned by older ones.
func decodeComments(raw json.RawMessage) ([]Comment, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []Comment
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
		return list, nil
	}
	var page struct {
		Data []Comment `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return page.Data, nil
}
