package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neasmart"

// Metrics holds every collector the gateway reports.
type Metrics struct {
	registry *prometheus.Registry

	registerReads    prometheus.Counter
	registerWrites   *prometheus.CounterVec
	registersWritten *prometheus.CounterVec
	storeFailures    *prometheus.CounterVec

	fieldbusRequests *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	wsClients     prometheus.Gauge
	mqttPublishes *prometheus.CounterVec
	mqttCommands  *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registerReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registers",
			Name:      "reads_total",
			Help:      "Register store read calls.",
		}),
		registerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registers",
			Name:      "writes_total",
			Help:      "Committed register store write calls by writer.",
		}, []string{"source"}),
		registersWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registers",
			Name:      "written_total",
			Help:      "Individual registers committed by writer.",
		}, []string{"source"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registers",
			Name:      "failures_total",
			Help:      "Register store calls that failed, by operation and reason.",
		}, []string{"op", "reason"}),
		fieldbusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fieldbus",
			Name:      "requests_total",
			Help:      "Modbus requests handled, by transport, table and result.",
		}, []string{"transport", "table", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
		mqttPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publishes_total",
			Help:      "MQTT state publishes by result.",
		}, []string{"result"}),
		mqttCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "commands_total",
			Help:      "MQTT commands by kind and result.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registerReads,
		m.registerWrites,
		m.registersWritten,
		m.storeFailures,
		m.fieldbusRequests,
		m.httpRequests,
		m.httpDuration,
		m.wsClients,
		m.mqttPublishes,
		m.mqttCommands,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRead counts one register store read.
func (m *Metrics) ObserveRead(int) {
	if m == nil {
		return
	}
	m.registerReads.Inc()
}

// ObserveWrite counts one committed write of count registers.
func (m *Metrics) ObserveWrite(source string, count int) {
	if m == nil {
		return
	}
	m.registerWrites.WithLabelValues(source).Inc()
	m.registersWritten.WithLabelValues(source).Add(float64(count))
}

// ObserveFailure counts a failed store call.
func (m *Metrics) ObserveFailure(op, reason string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(op, reason).Inc()
}

// ObserveFieldbus counts one Modbus request.
func (m *Metrics) ObserveFieldbus(transport, table, result string) {
	if m == nil {
		return
	}
	m.fieldbusRequests.WithLabelValues(transport, table, result).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetWebSocketClients sets the connected client gauge.
func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// ObservePublish counts one MQTT publish.
func (m *Metrics) ObservePublish(ok bool) {
	if m == nil {
		return
	}
	m.mqttPublishes.WithLabelValues(result(ok)).Inc()
}

// ObserveCommand counts one MQTT command.
func (m *Metrics) ObserveCommand(kind string, ok bool) {
	if m == nil {
		return
	}
	m.mqttCommands.WithLabelValues(kind, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
