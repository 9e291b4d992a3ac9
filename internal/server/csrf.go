package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// csrfMiddleware rejects cross-origin POSTs to the login, logout and comment
// endpoints. The session token lives in the server, so a forged request
// would act as the signed-in user. Safe methods, health and static paths
// pass through.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if path == "/healthz" || strings.HasPrefix(path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		if !isValidOrigin(r) {
			http.Error(w, "Forbidden: Invalid origin", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isValidOrigin compares the Origin, or failing that the Referer, with the
// request host.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	requestHost := r.Host
	if requestHost == "" {
		requestHost = r.URL.Host
	}

	originHost := normalizeHost(originURL.Host)
	targetHost := normalizeHost(requestHost)

	return originHost == targetHost
}

// normalizeHost treats localhost and 127.0.0.1 as equivalent.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}

	return strings.ToLower(host)
}
