package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swingmetrics/models"
)

const namespace = "swingmetrics"

// Drop reasons.
const (
	ReasonBufferFull = "buffer_full"
	ReasonQueueFull  = "queue_full"
)

// Metrics holds the recorder's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SamplesRecorded *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	ExportedRows    prometheus.Counter
	Recording       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SamplesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_recorded_total",
			Help:      "Samples written into the session buffer",
		}, []string{"sensor"}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples that never reached the session buffer",
		}, []string{"sensor", "reason"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by outcome",
		}, []string{"outcome"}),
		ExportedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_rows_total",
			Help:      "Rows written to CSV",
		}),
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while a session is recording",
		}),
	}
	m.registry.MustRegister(m.SamplesRecorded, m.SamplesDropped, m.Sessions, m.ExportedRows, m.Recording)
	return m
}

func (m *Metrics) Recorded(kind models.SensorKind) {
	m.SamplesRecorded.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) Dropped(kind models.SensorKind, reason string) {
	m.SamplesDropped.WithLabelValues(kind.String(), reason).Inc()
}

func (m *Metrics) SessionFinished(outcome string, rows int) {
	m.Sessions.WithLabelValues(outcome).Inc()
	m.ExportedRows.Add(float64(rows))
}

func (m *Metrics) SetRecording(on bool) {
	if on {
		m.Recording.Set(1)
	} else {
		m.Recording.Set(0)
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
