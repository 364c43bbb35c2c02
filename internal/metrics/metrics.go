// Package metrics exposes Prometheus collectors for the analyzer service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analyzerAnalysesTotal           *prometheus.CounterVec
	analyzerIssuesTotal             *prometheus.CounterVec
	analyzerAnalysisDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec
	analyzerJobsTotal               *prometheus.CounterVec
	analyzerActiveWorkers           prometheus.Gauge
	analyzerSnapshotBytesTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analyzerAnalysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_analyses_total",
				Help: "Total number of analyses performed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		analyzerIssuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_issues_total",
				Help: "Total accessibility issues found, labeled by category.",
			},
			[]string{"category"},
		)

		analyzerAnalysisDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyzer_analysis_duration_seconds",
				Help:    "Histogram of analysis durations, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		analyzerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		analyzerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "analyzer_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		analyzerSnapshotBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_snapshot_bytes_total",
				Help: "Total bytes of HTML snapshots persisted, labeled by site.",
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAnalysis records a completed analysis of the given kind and status.
func ObserveAnalysis(kind, status string, duration time.Duration) {
	analyzerAnalysesTotal.WithLabelValues(kind, status).Inc()
	analyzerAnalysisDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveIssues adds to the issue counter for an accessibility check category.
func ObserveIssues(category string, count int) {
	if count > 0 {
		analyzerIssuesTotal.WithLabelValues(category).Add(float64(count))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	analyzerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	analyzerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	analyzerActiveWorkers.Dec()
}

// ObserveSnapshot records the size of a persisted HTML snapshot.
func ObserveSnapshot(site string, size int) {
	if size > 0 {
		analyzerSnapshotBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(size))
	}
}
