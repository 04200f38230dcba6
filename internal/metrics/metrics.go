// Package metrics exposes Prometheus collectors for the crawl service.
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

const namespace = "terracrawler"

var (
	crawlEventsTotal           *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	parseDiagnosticsTotal      *prometheus.CounterVec
	cleanupDeletedTotal        *prometheus.CounterVec
	scheduleSkipsTotal         *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	archiveFailuresTotal       prometheus.Counter
	projectRunsInFlight        prometheus.Gauge
	tickDurationSeconds        prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawl_events_total",
				Help:      "Crawl attempts recorded in the ledger, labeled by source, status and trigger.",
			},
			[]string{"source", "status", "trigger"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Adapter fetch latency, labeled by source.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"source"},
		)

		parseDiagnosticsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_diagnostics_total",
				Help:      "Per-record parse problems that did not fail the fetch.",
			},
			[]string{"source"},
		)

		cleanupDeletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_total",
				Help:      "Entries removed by the cleaner, labeled by pass.",
			},
			[]string{"pass"},
		)

		scheduleSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_skips_total",
				Help:      "Sources skipped by the scheduler, labeled by reason.",
			},
			[]string{"reason"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Failure alerts, labeled by delivery result.",
			},
			[]string{"result"},
		)

		archiveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_failures_total",
				Help:      "Raw payloads that could not be archived.",
			},
		)

		projectRunsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "project_runs_in_flight",
				Help:      "Project runs currently holding their project lock.",
			},
		)

		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of a full scheduler tick.",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_delay_seconds",
				Help:      "Time spent waiting on the per-host rate limiter.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request latency, labeled by method and route.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname, or "unknown".
func SanitizeHost(rawURL string) string {
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

// ObserveEvent counts one ledger event.
func ObserveEvent(source, status, trigger string) {
	Init()
	crawlEventsTotal.WithLabelValues(source, status, trigger).Inc()
}

// ObserveFetch records adapter latency.
func ObserveFetch(source string, d time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// AddParseDiagnostics counts swallowed per-record problems.
func AddParseDiagnostics(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	parseDiagnosticsTotal.WithLabelValues(source).Add(float64(n))
}

// AddCleanupDeleted counts rows removed by one cleaner pass.
func AddCleanupDeleted(pass string, n int64) {
	if n <= 0 {
		return
	}
	Init()
	cleanupDeletedTotal.WithLabelValues(pass).Add(float64(n))
}

// ObserveSkip counts a source the scheduler did not execute.
func ObserveSkip(reason string) {
	Init()
	scheduleSkipsTotal.WithLabelValues(reason).Inc()
}

// ObserveAlert counts an alert delivery attempt.
func ObserveAlert(delivered bool) {
	Init()
	result := "sent"
	if !delivered {
		result = "failed"
	}
	alertsTotal.WithLabelValues(result).Inc()
}

// ObserveArchiveFailure counts a failed raw payload write.
func ObserveArchiveFailure() {
	Init()
	archiveFailuresTotal.Inc()
}

// IncProjectRuns increments the in-flight project run gauge.
func IncProjectRuns() {
	Init()
	projectRunsInFlight.Inc()
}

// DecProjectRuns decrements the in-flight project run gauge.
func DecProjectRuns() {
	Init()
	projectRunsInFlight.Dec()
}

// ObserveTick records the duration of a scheduler tick.
func ObserveTick(d time.Duration) {
	Init()
	tickDurationSeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
