// Package metrics exposes Prometheus collectors for the pagewatch service.
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
	urlsTotal                  *prometheus.CounterVec
	snapshotBytesTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	analysisDurationSeconds    *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeRuns                 prometheus.Gauge
	relayMessagesTotal         *prometheus.CounterVec
	triggersTotal              *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		urlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_urls_total",
				Help: "Total number of URLs scanned, labeled by site and change status.",
			},
			[]string{"site", "status"},
		)

		snapshotBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_snapshot_bytes_total",
				Help: "Total number of snapshot bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewatch_fetch_duration_seconds",
				Help:    "Histogram of rendering fetch latencies, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 290},
			},
			[]string{"outcome"},
		)

		analysisDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewatch_analysis_duration_seconds",
				Help:    "Histogram of change analysis latencies, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_runs_total",
				Help: "Total number of scan runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagewatch_run_duration_seconds",
				Help:    "Histogram of whole scan run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewatch_active_runs",
				Help: "Number of scan runs currently in progress.",
			},
		)

		relayMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_relay_messages_total",
				Help: "Total number of relay operations, labeled by backend, operation and outcome.",
			},
			[]string{"backend", "op", "outcome"},
		)

		triggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_triggers_total",
				Help: "Total number of scan triggers, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewatch_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit waits before a fetch.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObserveURL records one URL outcome of a scan run.
func ObserveURL(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	urlsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		snapshotBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records the latency of one rendering fetch.
func ObserveFetch(duration time.Duration, err error) {
	Init()
	fetchDurationSeconds.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

// ObserveAnalysis records the latency of one analysis call.
func ObserveAnalysis(duration time.Duration, err error) {
	Init()
	analysisDurationSeconds.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

// ObserveRun records a finished scan run.
func ObserveRun(err error, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome(err)).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveRelay records an enqueue or delivery on a relay backend.
func ObserveRelay(backend, op string, err error) {
	Init()
	relayMessagesTotal.WithLabelValues(backend, op, outcome(err)).Inc()
}

// ObserveTrigger records one trigger firing.
func ObserveTrigger(source string, err error) {
	Init()
	triggersTotal.WithLabelValues(source, outcome(err)).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a per-host token.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
