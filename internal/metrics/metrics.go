// Package metrics exposes Prometheus collectors for the batch scraper.
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
	outcomesTotal              *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	queueOutstanding           prometheus.Gauge
	batchesTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchscrape_outcomes_total",
				Help: "Total number of recorded outcomes, labeled by site, status and failure kind.",
			},
			[]string{"site", "status", "kind"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchscrape_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchscrape_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchscrape_active_workers",
				Help: "Number of workers currently running.",
			},
		)

		queueOutstanding = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchscrape_queue_outstanding",
				Help: "Targets queued or in flight in the most recently updated batch.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchscrape_batches_total",
				Help: "Total number of batches, labeled by result.",
			},
			[]string{"result"},
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

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batchscrape_robots_fallback_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
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

// ObserveOutcome records one outcome for target.
func ObserveOutcome(target, status, kind string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(target)
	outcomesTotal.WithLabelValues(site, status, kind).Inc()
	fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveBatch increments the batch counter for the given result.
func ObserveBatch(result string) {
	Init()
	batchesTotal.WithLabelValues(result).Inc()
}

// SetQueueOutstanding records the number of unfinished targets.
func SetQueueOutstanding(n int) {
	Init()
	queueOutstanding.Set(float64(n))
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}
