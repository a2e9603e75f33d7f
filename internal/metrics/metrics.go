// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionclass_http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visionclass_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionclass_classifications_total",
			Help: "Classification requests by model and cache outcome.",
		},
		[]string{"model", "cache"},
	)

	ClassificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visionclass_classification_duration_seconds",
			Help:    "Model inference latency by model.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	RateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionclass_rate_limit_denials_total",
			Help: "Requests denied by the rate limiter, by window.",
		},
		[]string{"window"},
	)

	UsageLogFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visionclass_usage_log_failures_total",
			Help: "Usage ledger entries dropped because persistence failed.",
		},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionclass_active_streams",
			Help: "Currently open real-time classification streams.",
		},
	)
)

// Register installs all collectors on the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ClassificationsTotal,
		ClassificationDuration,
		RateLimitDenials,
		UsageLogFailures,
		ActiveStreams,
	)
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := routePattern(r)
		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern labels by the matched chi pattern ("/api/v1/models/{id}")
// rather than the concrete URL, keeping label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
