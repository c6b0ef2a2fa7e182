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

func httpMetricsOnce(reg prometheus.Registerer) *httpMetrics {
	metricsOnce.Do(func() {
		f := promauto.With(reg)
		metrics = &httpMetrics{
			requests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "finscan_http_requests_total",
				Help: "HTTP requests by route, method and status",
			}, []string{"route", "method", "status"}),
			duration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "finscan_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}, []string{"route", "method"}),
			inFlight: f.NewGauge(prometheus.GaugeOpts{
				Name: "finscan_http_in_flight_requests",
				Help: "Requests currently being served",
			}),
			size: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "finscan_http_response_size_bytes",
				Help:    "Response body size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, []string{"route"}),
		}
	})
	return metrics
}

// Metrics records request counts and latency labelled by the matched route
// template, so /api/candles?symbol=X stays one series. Unmatched
// requests are labelled "unmatched".
func Metrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := httpMetricsOnce(reg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			start := time.Now()
			err := next(c)
			m.inFlight.Dec()

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			m.size.WithLabelValues(route).Observe(float64(c.Response().Size))
			return err
		}
	}
}
