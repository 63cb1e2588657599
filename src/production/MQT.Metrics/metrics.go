package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensor_service"

// Bridge message outcomes
const (
	ResultDispatched    = "dispatched"
	ResultUnbound       = "unbound"
	ResultPublishFailed = "publish_failed"
)

// Metrics holds the collectors of one process on its own registry
type Metrics struct {
	registry *prometheus.Registry

	OperationLatencyMs *prometheus.HistogramVec
	OperationErrors    *prometheus.CounterVec
	BridgeMessages     *prometheus.CounterVec
	BridgeState        prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OperationLatencyMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_latency_ms",
				Help:      "Operation latency in milliseconds",
				Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"operation", "status"},
		),
		OperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Operations that ended with a 4xx or 5xx status",
			},
			[]string{"operation", "status"},
		),
		BridgeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_messages_total",
				Help:      "Inbound MQTT messages by topic and outcome",
			},
			[]string{"topic", "result"},
		),
		BridgeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_state",
				Help:      "Bridge session state (0 disconnected, 1 connecting, 2 subscribed, 3 draining, 4 stopped)",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.OperationLatencyMs,
		m.OperationErrors,
		m.BridgeMessages,
		m.BridgeState,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation records latency for every execution and counts failures
func (m *Metrics) ObserveOperation(op string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.OperationLatencyMs.WithLabelValues(op, code).Observe(float64(elapsed.Microseconds()) / 1000)
	if status >= http.StatusBadRequest {
		m.OperationErrors.WithLabelValues(op, code).Inc()
	}
}

func (m *Metrics) BridgeMessage(topic, result string) {
	m.BridgeMessages.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) SetBridgeState(state int) {
	m.BridgeState.Set(float64(state))
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
