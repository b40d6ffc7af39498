package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCount tracks total requests by method, route, and status
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smr_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks response times by method, route, and status
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smr_api_request_duration_seconds",
			Help:    "Histogram of request durations by method, route, and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	// RequestSize tracks request body sizes; uploads dominate it
	RequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smr_api_request_size_bytes",
			Help:    "Histogram of request sizes by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "route"},
	)

	// ErrorCount tracks responses with status >= 400
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smr_api_errors_total",
			Help: "Total number of API errors by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)
)

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqSize := len(c.Request().Body())

		err := c.Next()

		// Route is only resolved after routing, so read it after Next
		route := c.Route().Path
		method := c.Method()
		status := strconv.Itoa(c.Response().StatusCode())

		RequestCount.WithLabelValues(method, route, status).Inc()
		RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		if reqSize > 0 {
			RequestSize.WithLabelValues(method, route).Observe(float64(reqSize))
		}
		if err != nil || c.Response().StatusCode() >= 400 {
			ErrorCount.WithLabelValues(method, route, status).Inc()
		}

		return err
	}
}
