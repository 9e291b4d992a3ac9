package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCSRFProtection(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, true)

	tests := []struct { //nolint:govet // test cases prefer readability over memory layout
		name           string
		method         string
		path           string
		host           string
		origin         string
		referer        string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "GET requests bypass CSRF check",
			method:         http.MethodGet,
			path:           "/api/page/index.md",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST without Origin or Referer is rejected",
			method:         http.MethodPost,
			path:           "/api/auth/logout",
			host:           "localhost:8080",
			expectedStatus: http.StatusForbidden,
			expectedError:  "Invalid origin",
		},
		{
			name:           "POST with valid Origin succeeds",
			method:         http.MethodPost,
			path:           "/api/auth/logout",
			host:           "localhost:8080",
			origin:         "http://localhost:8080",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST with invalid Origin is rejected",
			method:         http.MethodPost,
			path:           "/api/comments/p-_index-1?page=/index",
			host:           "localhost:8080",
			origin:         "http://evil.com",
			expectedStatus: http.StatusForbidden,
			expectedError:  "Invalid origin",
		},
		{
			name:           "POST with valid Referer succeeds",
			method:         http.MethodPost,
			path:           "/api/auth/refresh",
			host:           "localhost:8080",
			referer:        "http://localhost:8080/page/index.md",
			expectedStatus: http.StatusNotImplemented,
		},
		{
			name:           "POST with invalid Referer is rejected",
			method:         http.MethodPost,
			path:           "/api/auth/login",
			host:           "localhost:8080",
			referer:        "http://evil.com/attack",
			expectedStatus: http.StatusForbidden,
			expectedError:  "Invalid origin",
		},
		{
			name:           "localhost and 127.0.0.1 are equivalent",
			method:         http.MethodPost,
			path:           "/api/auth/logout",
			host:           "127.0.0.1:8080",
			origin:         "http://localhost:8080",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "healthz endpoint bypasses CSRF",
			method:         http.MethodPost,
			path:           "/healthz",
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "static files bypass CSRF",
			method:         http.MethodPost,
			path:           "/static/css/app.css",
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			if tt.host != "" {
				req.Host = tt.host
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d with body: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedError != "" && !strings.Contains(rec.Body.String(), tt.expectedError) {
				t.Errorf("expected error containing %q, got: %s", tt.expectedError, rec.Body.String())
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"localhost:8080": "localhost",
		"127.0.0.1":      "localhost",
		"[::1]:3000":     "localhost",
		"Docs.Example":   "docs.example",
	}
	for in, want := range cases {
		if got := normalizeHost(in); got != want {
			t.Errorf("normalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}
