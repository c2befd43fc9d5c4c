// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeNetwork   = "network_error"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	proxyBlacklistTotal        prometheus.Counter
	pagesProcessedTotal        *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	documentsCreatedTotal      prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	jobRuntimeSeconds          *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; the observe helpers call it themselves.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_fetch_attempts_total",
			Help: "Fetch attempts, labeled by outcome.",
		}, []string{"outcome"})

		proxyBlacklistTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_proxy_blacklist_total",
			Help: "Times a proxy was parked after a failed attempt.",
		})

		pagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_pages_processed_total",
			Help: "Pages fetched and parsed by the crawl controller, labeled by site.",
		}, []string{"site"})

		bytesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_bytes_fetched_total",
			Help: "Response bytes fetched, labeled by site.",
		}, []string{"site"})

		documentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_documents_created_total",
			Help: "Documents created from crawled pages.",
		})

		jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Finished crawl jobs, labeled by final status.",
		}, []string{"status"})

		jobRuntimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_active_workers",
			Help: "Workers currently processing a job.",
		})

		rateLimitDelaysSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_rate_limit_delays_seconds",
			Help:    "Time spent waiting on the per-domain politeness limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label. It returns
// "unknown" if the URL is invalid.
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

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProxyBlacklist counts one proxy blacklisting.
func ObserveProxyBlacklist() {
	Init()
	proxyBlacklistTotal.Inc()
}

// ObservePage counts a processed page and its size.
func ObservePage(pageURL string, bytesFetched int) {
	Init()
	site := SanitizeSite(pageURL)
	pagesProcessedTotal.WithLabelValues(site).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveDocumentCreated counts a document created by a crawl.
func ObserveDocumentCreated() {
	Init()
	documentsCreatedTotal.Inc()
}

// ObserveJob records a finished job.
func ObserveJob(status string, runtime time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	if runtime > 0 {
		jobRuntimeSeconds.WithLabelValues(status).Observe(runtime.Seconds())
	}
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

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
