// Package middleware provides HTTP middleware components for the LM Bridge
// server. This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpResponseSizeBytes tracks the size of HTTP response bodies.
	httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmbridge_http_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 10GB
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of currently active connections.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbridge_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	// dispatchTotal counts classified requests by dispatch outcome.
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_dispatch_total",
			Help: "Requests seen by the dispatch middleware, by outcome",
		},
		[]string{"outcome"}, // local_event, websocket, http_proxy, passthrough
	)

	// remoteRequestsTotal counts calls to the remote LoRA Manager API.
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_remote_requests_total",
			Help: "Requests issued to the remote LoRA Manager API",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok or error
	)

	// Listing cache metrics, labelled by listing kind (loras, checkpoints).
	listingCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_listing_cache_hits_total",
			Help: "Listing cache hits served without a remote fetch",
		},
		[]string{"listing"},
	)
	listingCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_listing_cache_misses_total",
			Help: "Listing cache misses that triggered a remote fetch",
		},
		[]string{"listing"},
	)
	listingCacheStaleServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_listing_cache_stale_serves_total",
			Help: "Stale listings served because a refresh failed",
		},
		[]string{"listing"},
	)

	// websocketBridgesActive tracks currently open WebSocket bridges.
	websocketBridgesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbridge_websocket_bridges_active",
			Help: "Currently open WebSocket bridges",
		},
	)

	// websocketFramesTotal counts relayed WebSocket frames by direction.
	websocketFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_websocket_frames_total",
			Help: "WebSocket frames relayed through bridges",
		},
		[]string{"direction"}, // to_remote, to_client
	)

	// eventsEmittedTotal counts push events emitted to the browser.
	eventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbridge_events_emitted_total",
			Help: "Push events emitted on the local event channel",
		},
		[]string{"event"},
	)

	// sseSubscribers tracks currently connected SSE subscribers.
	sseSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbridge_sse_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpResponseSizeBytes,
		activeConnections,
		dispatchTotal,
		remoteRequestsTotal,
		listingCacheHitsTotal,
		listingCacheMissesTotal,
		listingCacheStaleServesTotal,
		websocketBridgesActive,
		websocketFramesTotal,
		eventsEmittedTotal,
		sseSubscribers,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects Prometheus
// metrics for HTTP requests including request count, duration, and active
// connections.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		// Ensure metrics are registered
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		// Track active connections
		activeConnections.Inc()
		defer activeConnections.Dec()

		// Normalize path for metrics to avoid high cardinality
		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method

		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(duration)

		responseSize := c.Writer.Size()
		if responseSize > 0 {
			httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(responseSize))
		}
	}
}

// normalizePath normalizes URL paths to prevent high cardinality in metrics.
// Proxied asset and API trees collapse to a wildcard; the rest of the
// surface is small enough to keep as-is.
func normalizePath(path string) string {
	switch {
	case path == "/" || path == "/healthz" || path == "/metrics":
		return path
	case path == "/api/lm-bridge/status" || path == "/api/lm-bridge/events":
		return path
	case strings.HasPrefix(path, "/api/lm/"):
		return "/api/lm/*"
	case strings.HasPrefix(path, "/loras_static/"):
		return "/loras_static/*"
	case strings.HasPrefix(path, "/locales/"):
		return "/locales/*"
	case strings.HasPrefix(path, "/example_images_static/"):
		return "/example_images_static/*"
	case strings.HasPrefix(path, "/ws/"):
		return path
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		// Ensure metrics are registered before serving
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDispatch records the dispatch outcome chosen for a request.
// outcome is one of local_event, websocket, http_proxy, passthrough.
func RecordDispatch(outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	dispatchTotal.WithLabelValues(outcome).Inc()
}

// RecordRemoteRequest records one call to the remote LoRA Manager API.
func RecordRemoteRequest(endpoint string, err error) {
	if !IsMetricsEnabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	remoteRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordListingCacheHit increments the hit counter for a listing kind.
func RecordListingCacheHit(listing string) {
	if !IsMetricsEnabled() {
		return
	}
	listingCacheHitsTotal.WithLabelValues(listing).Inc()
}

// RecordListingCacheMiss increments the miss counter for a listing kind.
func RecordListingCacheMiss(listing string) {
	if !IsMetricsEnabled() {
		return
	}
	listingCacheMissesTotal.WithLabelValues(listing).Inc()
}

// RecordListingCacheStaleServe increments the stale-serve counter for a
// listing kind.
func RecordListingCacheStaleServe(listing string) {
	if !IsMetricsEnabled() {
		return
	}
	listingCacheStaleServesTotal.WithLabelValues(listing).Inc()
}

// WebsocketBridgeOpened bumps the active bridge gauge.
func WebsocketBridgeOpened() {
	if !IsMetricsEnabled() {
		return
	}
	websocketBridgesActive.Inc()
}

// WebsocketBridgeClosed drops the active bridge gauge.
func WebsocketBridgeClosed() {
	if !IsMetricsEnabled() {
		return
	}
	websocketBridgesActive.Dec()
}

// RecordWebsocketFrame counts one relayed frame.
// direction is to_remote or to_client.
func RecordWebsocketFrame(direction string) {
	if !IsMetricsEnabled() {
		return
	}
	websocketFramesTotal.WithLabelValues(direction).Inc()
}

// RecordEventEmitted counts one push event by name.
func RecordEventEmitted(event string) {
	if !IsMetricsEnabled() {
		return
	}
	eventsEmittedTotal.WithLabelValues(event).Inc()
}

// SetSSESubscribers sets the subscriber gauge.
func SetSSESubscribers(n int) {
	if !IsMetricsEnabled() {
		return
	}
	sseSubscribers.Set(float64(n))
}
