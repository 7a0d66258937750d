package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics — метрики входящих HTTP-запросов.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics регистрирует HTTP-метрики; registerer=nil означает DefaultRegisterer.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	registerer = registererOrDefault(registerer)
	return &HTTPMetrics{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_http_requests_total",
			Help: "HTTP requests grouped by service, method, route and status code.",
		}, []string{"service", "method", "route", "code"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method", "route"})),
	}
}

// Observe записывает завершённый запрос. В route передаётся шаблон маршрута, а не сырой путь.
func (m *HTTPMetrics) Observe(service, method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(service, method, route).Observe(elapsed.Seconds())
}
