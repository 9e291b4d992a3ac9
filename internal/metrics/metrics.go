// Package metrics exposes Prometheus collectors for rendering, comment
// anchors and authentication.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsite"

// Login results recorded by ObserveLogin.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// Metrics holds the docsite collectors and the registry they are bound to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PagesRendered  prometheus.Counter
	RenderDuration prometheus.Histogram
	Anchors        *prometheus.CounterVec
	Logins         *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_rendered_total",
			Help:      "Markdown pages converted to HTML (cache misses only).",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent converting a markdown page.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		Anchors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comment_anchors_total",
			Help:      "Comment anchors assigned, by block tag.",
		}, []string{"tag"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_logins_total",
			Help:      "Login attempts against the comment service, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PagesRendered,
		m.RenderDuration,
		m.Anchors,
		m.Logins,
	)
	return m
}

// ObserveRender records one page conversion and the anchors it produced.
func (m *Metrics) ObserveRender(elapsed time.Duration, tags []string) {
	if m == nil {
		return
	}
	m.PagesRendered.Inc()
	m.RenderDuration.Observe(elapsed.Seconds())
	for _, tag := range tags {
		m.Anchors.WithLabelValues(tag).Inc()
	}
}

// ObserveLogin records a login attempt.
func (m *Metrics) ObserveLogin(err error) {
	if m == nil {
		return
	}
	result := LoginSuccess
	if err != nil {
		result = LoginFailure
	}
	m.Logins.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
