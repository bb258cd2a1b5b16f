// Package metrics provides Prometheus metrics for the file server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileserver_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileserver_bytes_downloaded_total",
			Help: "Total bytes served to clients",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileserver_bytes_uploaded_total",
			Help: "Total bytes received from clients",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_uploads_total",
			Help: "Total number of completed uploads",
		},
		[]string{"status"},
	)

	// Chunked upload metrics
	chunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileserver_upload_chunks_received_total",
			Help: "Total upload chunks staged",
		},
	)

	assembliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_upload_assemblies_total",
			Help: "Total chunked upload assembly attempts",
		},
		[]string{"status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Folder size cache metrics
	sizeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_folder_size_cache_lookups_total",
			Help: "Folder size cache lookups",
		},
		[]string{"result"},
	)

	sizeComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fileserver_folder_size_compute_duration_seconds",
			Help:    "Time to recursively compute a folder size",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sharing metrics
	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileserver_share_links_active",
			Help: "Number of unexpired share links",
		},
	)

	shareDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileserver_share_downloads_total",
			Help: "Total downloads via share links",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileserver_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileserver_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Rate limiting
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileserver_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// Database metrics
	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileserver_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDownload records a file download.
func RecordDownload(bytes int64, success bool) {
	bytesDownloaded.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(status).Inc()
}

// RecordUpload records a completed upload.
func RecordUpload(bytes int64, success bool) {
	bytesUploaded.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(status).Inc()
}

// RecordChunkReceived records a staged upload chunk.
func RecordChunkReceived() {
	chunksReceivedTotal.Inc()
}

// RecordAssembly records a chunked upload assembly attempt.
func RecordAssembly(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	assembliesTotal.WithLabelValues(status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordSizeCacheLookup records a folder size cache hit or miss.
func RecordSizeCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	sizeCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordSizeCompute records a recursive folder size computation.
func RecordSizeCompute(duration time.Duration) {
	sizeComputeDuration.Observe(duration.Seconds())
}

// SetShareLinksActive sets the number of unexpired share links.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

// RecordShareDownload records a share link download.
func RecordShareDownload() {
	shareDownloadsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
