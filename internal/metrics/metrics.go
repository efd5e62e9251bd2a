package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the client-side Prometheus metrics under one registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	unauthorized    prometheus.Counter
	pollCycles      *prometheus.CounterVec
	unreadGauge     prometheus.Gauge
}

// New registers the taskdesk collectors on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdesk_api_requests_total",
		Help: "API calls by method, endpoint and status code.",
	}, []string{"method", "endpoint", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskdesk_api_request_duration_seconds",
		Help:    "API call latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
	unauthorized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskdesk_api_unauthorized_total",
		Help: "Responses that ended the session with 401.",
	})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdesk_poll_cycles_total",
		Help: "Unread-count poll cycles by result.",
	}, []string{"result"})
	unread := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskdesk_unread_notifications",
		Help: "Last unread notification count reported by the server.",
	})

	registry.MustRegister(requests, duration, unauthorized, polls, unread)

	return &Collector{
		registry:        registry,
		requestsTotal:   requests,
		requestDuration: duration,
		unauthorized:    unauthorized,
		pollCycles:      polls,
		unreadGauge:     unread,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one API call. code is 0 when no response arrived.
func (c *Collector) ObserveRequest(method, endpoint string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	c.requestsTotal.WithLabelValues(method, endpoint, label).Inc()
	c.requestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// Unauthorized counts a session-ending 401.
func (c *Collector) Unauthorized() {
	if c == nil {
		return
	}
	c.unauthorized.Inc()
}

// PollCycle counts one unread-count refresh; ok reports success.
func (c *Collector) PollCycle(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.pollCycles.WithLabelValues(result).Inc()
}

// SetUnread records the latest server-side unread count.
func (c *Collector) SetUnread(n int) {
	if c == nil {
		return
	}
	c.unreadGauge.Set(float64(n))
}
