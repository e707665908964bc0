package middleware

import (
	"errors"
	"strconv"
	"time"

	applogger "DigitCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets    = prometheus.ExponentialBuckets(256, 4, 8)
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	return &httpMetrics{
		requests: registerOnce(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digitcast_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"})),
		latency: registerOnce(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digitcast_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: latencyBuckets,
		}, []string{"route", "method", "class"})),
		size: registerOnce(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digitcast_http_response_size_bytes",
			Help:    "HTTP response body size.",
			Buckets: sizeBuckets,
		}, []string{"route", "class"})),
		inFlight: registerOnce(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "digitcast_http_in_flight_requests",
			Help: "Requests being served.",
		})),
	}
}

// registerOnce returns the existing collector when an identical one is
// already registered, so several servers can share a registry.
func registerOnce[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Metrics records request counters and latencies labelled by the route
// template, and warns about requests slower than slow.
func Metrics(reg prometheus.Registerer, l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := newHTTPMetrics(reg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			route, method, code := routeOf(c), c.Request().Method, c.Response().Status
			class := statusClass(code)
			m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.latency.WithLabelValues(route, method, class).Observe(elapsed.Seconds())
			m.size.WithLabelValues(route, class).Observe(float64(c.Response().Size))

			if l != nil && slow > 0 && elapsed >= slow {
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.Int("status", code),
					applogger.Duration("latency_ms", elapsed),
				)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
