package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	size     *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metrics     *httpMetrics
)

func registerMetrics() *httpMetrics {
	metricsOnce.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)
		metrics = &httpMetrics{
			requests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "stocksense_http_requests_total",
				Help: "HTTP requests by route template, method and status",
			}, []string{"route", "method", "status"}),
			duration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "stocksense_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60},
			}, []string{"route", "method", "class"}),
			inFlight: f.NewGauge(prometheus.GaugeOpts{
				Name: "stocksense_http_in_flight_requests",
				Help: "Requests currently being served",
			}),
			size: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "stocksense_http_response_size_bytes",
				Help:    "HTTP response body size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, []string{"route"}),
		}
	})
	return metrics
}

// Metrics records request counters labelled by the echo route template, so
// /api/predict/:ticker stays one series however many tickers are asked for.
// Register it outside Recover so panics are counted as 500s.
func Metrics() echo.MiddlewareFunc {
	m := registerMetrics()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.inFlight.Dec()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method, status := c.Request().Method, c.Response().Status
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method, statusClass(status)).Observe(time.Since(start).Seconds())
			m.size.WithLabelValues(route).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
