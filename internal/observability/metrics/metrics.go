package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config carries service-level labels for every metric family.
type Config struct {
	ServiceName string
	Environment string
}

// HTTPMetrics captures request-level health signals for the API surface.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	responses *prometheus.CounterVec
}

// NewHTTPMetrics registers HTTP metrics on the default registerer.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

// NewHTTPMetricsWithRegisterer registers HTTP metrics on the given registerer.
// Tests use a private registry to avoid duplicate registration.
func NewHTTPMetricsWithRegisterer(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	return newHTTPMetrics(registerer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{
		"service": serviceName(cfg),
		"env":     environment(cfg),
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "wipline_http_requests_total",
		Help:        "HTTP requests by method and route.",
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "wipline_http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "wipline_http_in_flight_requests",
		Help:        "HTTP requests currently being served.",
		ConstLabels: constLabels,
	})
	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "wipline_http_responses_total",
		Help:        "HTTP responses by route and status code.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status_code"})

	registerer.MustRegister(requests, duration, inFlight, responses)

	return &HTTPMetrics{
		requests:  requests,
		duration:  duration,
		inFlight:  inFlight,
		responses: responses,
	}
}

// GinMiddleware records request counts, latency and in-flight gauge.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		m.inFlight.Inc()
		c.Next()
		m.inFlight.Dec()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method

		m.requests.WithLabelValues(method, route).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		m.responses.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func serviceName(cfg Config) string {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "wipline"
	}
	return name
}

func environment(cfg Config) string {
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	return env
}
