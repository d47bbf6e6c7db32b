// Package metrics exposes Prometheus collectors for the careers crawler.
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
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	oracleRequestsTotal        *prometheus.CounterVec
	oracleDurationSeconds      *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	runConfidence              *prometheus.HistogramVec
	jobsUpsertedTotal          *prometheus.CounterVec
	ruleDecisionsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_fetch_total",
				Help: "Outbound page fetches and probes, labeled by site, kind and outcome.",
			},
			[]string{"site", "kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		oracleRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_oracle_requests_total",
				Help: "Rule oracle calls, labeled by request kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		oracleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careers_oracle_duration_seconds",
				Help:    "Rule oracle latency.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_runs_total",
				Help: "Completed runs, labeled by mode and crawl log status.",
			},
			[]string{"mode", "status"},
		)

		runConfidence = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careers_run_confidence",
				Help:    "Validated confidence score per run.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"mode"},
		)

		jobsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_jobs_upserted_total",
				Help: "Jobs written by extraction runs, labeled new or updated.",
			},
			[]string{"kind"},
		)

		ruleDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careers_rule_decisions_total",
				Help: "Rule lifecycle outcomes (created, updated, improved, no_improvement, deleted...).",
			},
			[]string{"decision"},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "careers_active_workers",
				Help: "Number of workers currently processing a run.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careers_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"scope"},
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

// ObserveFetch records one outbound request. kind is "page" or "probe".
func ObserveFetch(site, kind, outcome string, bytesFetched int) {
	Init()
	s := SanitizeSite(site)
	fetchTotal.WithLabelValues(s, kind, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(s).Add(float64(bytesFetched))
	}
}

// ObserveOracle records one oracle call.
func ObserveOracle(kind, outcome string, duration time.Duration) {
	Init()
	oracleRequestsTotal.WithLabelValues(kind, outcome).Inc()
	oracleDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRun records a completed run and its confidence.
func ObserveRun(mode, status string, confidence float64) {
	Init()
	runsTotal.WithLabelValues(mode, status).Inc()
	runConfidence.WithLabelValues(mode).Observe(confidence)
}

// ObserveJobsUpserted adds extraction write counts.
func ObserveJobsUpserted(newJobs, updatedJobs int) {
	Init()
	if newJobs > 0 {
		jobsUpsertedTotal.WithLabelValues("new").Add(float64(newJobs))
	}
	if updatedJobs > 0 {
		jobsUpsertedTotal.WithLabelValues("updated").Add(float64(updatedJobs))
	}
}

// ObserveRuleDecision counts a lifecycle outcome.
func ObserveRuleDecision(decision string) {
	Init()
	ruleDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(scope).Observe(duration.Seconds())
}
