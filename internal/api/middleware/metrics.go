// Package middleware provides HTTP middleware for the ChatFlow backend.
// This file contains the Prometheus metrics middleware.
package middleware

import (
	"strconv"
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
			Name: "chatflow_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatflow_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of currently active connections.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatflow_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	activeConnectionsCount int64

	// chatRequestsByProvider counts chat requests by upstream provider.
	chatRequestsByProvider = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatflow_chat_requests_by_provider_total",
			Help: "Total chat requests grouped by upstream provider",
		},
		[]string{"provider", "model"},
	)

	// upstreamErrors counts upstream failures by type.
	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatflow_upstream_errors_total",
			Help: "Total number of upstream request errors",
		},
		[]string{"error_type", "provider"},
	)

	// streamedChunksTotal counts normalized content deltas re-streamed to
	// clients.
	streamedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatflow_streamed_chunks_total",
			Help: "Total content chunks streamed to clients",
		},
		[]string{"provider"},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
)

// RegisterMetrics registers all Prometheus metrics. Safe to call multiple
// times; metrics are registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		activeConnections,
		chatRequestsByProvider,
		upstreamErrors,
		streamedChunksTotal,
	)
}

// RecordProviderRequest counts one chat request against a provider.
func RecordProviderRequest(provider, model string) {
	chatRequestsByProvider.WithLabelValues(provider, model).Inc()
}

// RecordUpstreamError counts one upstream failure.
func RecordUpstreamError(errorType, provider string) {
	upstreamErrors.WithLabelValues(errorType, provider).Inc()
}

// RecordStreamedChunk counts one delta re-streamed to a client.
func RecordStreamedChunk(provider string) {
	streamedChunksTotal.WithLabelValues(provider).Inc()
}

// PrometheusMiddleware returns a Gin middleware that collects request count,
// duration and active connection metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	RegisterMetrics()
	return func(c *gin.Context) {
		// Skip the metrics endpoint to avoid self-referential metrics.
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Set(float64(atomic.LoadInt64(&activeConnectionsCount)))

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		atomic.AddInt64(&activeConnectionsCount, -1)
		activeConnections.Set(float64(atomic.LoadInt64(&activeConnectionsCount)))

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	RegisterMetrics()
	return gin.WrapH(promhttp.Handler())
}
