// Package metrics exposes client-side counters for the backend traffic and
// the recap jobs the CLI has observed.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/burmeserecap/recap/internal/videos"
)

const namespace = "recap"

// Collector records API and job activity into its own registry.
type Collector struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New registers the counters and the Go runtime collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Backend API responses by method and status code.",
		}, []string{"method", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_transitions_total",
			Help:      "Observed video job status changes by target status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		c.requests,
		c.refreshes,
		c.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRequest counts one backend response. Status 0 means no response.
func (c *Collector) ObserveRequest(method string, status int) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.requests.WithLabelValues(method, code).Inc()
}

// ObserveRefresh counts one refresh attempt.
func (c *Collector) ObserveRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveTransition is a videos.Listener.
func (c *Collector) ObserveTransition(t videos.Transition) {
	status := string(t.To)
	if !t.To.Valid() {
		status = "unknown"
	}
	c.transitions.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
