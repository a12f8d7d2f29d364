package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dtsu666emu"

// Metrics groups the emulator collectors on a dedicated registry.
type Metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	connectionsTot prometheus.Counter
	requests       *prometheus.CounterVec
	samples        *prometheus.CounterVec
	sampleDuration prometheus.Histogram
	dataValid      prometheus.Gauge
	fieldValue     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modbus_connections",
			Help:      "Open Modbus TCP client connections.",
		}),
		connectionsTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_connections_total",
			Help:      "Accepted Modbus TCP client connections.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_requests_total",
			Help:      "Modbus requests by function code and result.",
		}, []string{"function", "result"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_cycles_total",
			Help:      "Completed sampling cycles by validity verdict.",
		}, []string{"valid"}),
		sampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sampling_duration_seconds",
			Help:      "Duration of a full sampling cycle.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		dataValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_valid",
			Help:      "1 when the last snapshot was valid.",
		}),
		fieldValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "field_value",
			Help:      "Last valid value mirrored into a register field.",
		}, []string{"field"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.connectionsTot,
		m.requests,
		m.samples,
		m.sampleDuration,
		m.dataValid,
		m.fieldValue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
	m.connectionsTot.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connections.Dec()
}

func (m *Metrics) RequestServed(functionCode byte, result string) {
	m.requests.WithLabelValues(fmt.Sprintf("0x%02X", functionCode), result).Inc()
}

func (m *Metrics) ObserveSample(snapshot *domain.RegisterSnapshot, duration time.Duration) {
	m.sampleDuration.Observe(duration.Seconds())
	if snapshot.Valid {
		m.samples.WithLabelValues("true").Inc()
		m.dataValid.Set(1)
	} else {
		m.samples.WithLabelValues("false").Inc()
		m.dataValid.Set(0)
	}
	for _, v := range snapshot.Values {
		if v.Valid {
			m.fieldValue.WithLabelValues(v.Name).Set(v.Value)
		}
	}
}
