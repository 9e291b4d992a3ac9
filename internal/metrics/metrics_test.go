package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/docsite/internal/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveRender(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveRender(20*time.Millisecond, []string{"p", "p", "h1"})

	out := scrape(t, m)
	assert.Contains(t, out, "docsite_pages_rendered_total 1")
	assert.Contains(t, out, `docsite_comment_anchors_total{tag="p"} 2`)
	assert.Contains(t, out, `docsite_comment_anchors_total{tag="h1"} 1`)
	assert.Contains(t, out, "docsite_render_duration_seconds_count 1")
}

func TestObserveLogin(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveLogin(nil)
	m.ObserveLogin(errors.New("denied"))
	m.ObserveLogin(errors.New("denied"))

	out := scrape(t, m)
	assert.Contains(t, out, `docsite_auth_logins_total{result="success"} 1`)
	assert.Contains(t, out, `docsite_auth_logins_total{result="failure"} 2`)
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	m.ObserveRender(time.Second, []string{"p"})
	m.ObserveLogin(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
