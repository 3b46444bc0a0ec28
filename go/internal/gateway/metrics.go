package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

const metricsNamespace = "lead_sync"

// MetricsCollector defines the interface for collecting gateway metrics
type MetricsCollector interface {
	RecordEvent(eventType EventType, success bool, duration time.Duration)
	RecordClose(result auction.CloseResult)
	RecordChange(kind auction.ChangeKind)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEvent(eventType EventType, success bool, duration time.Duration) {}
func (NoOpMetricsCollector) RecordClose(result auction.CloseResult)                                {}
func (NoOpMetricsCollector) RecordChange(kind auction.ChangeKind)                                  {}

// PrometheusMetrics implements MetricsCollector on a private registry
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	closes        *prometheus.CounterVec
	changes       *prometheus.CounterVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Auction events handled, by type and result.",
		}, []string{"type", "result"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_handle_seconds",
			Help:      "Time spent applying one auction event.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"type"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "closures_total",
			Help:      "Closure events by synchronizer decision.",
		}, []string{"result"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changes_total",
			Help:      "Synchronizer changes fanned out, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.events,
		m.eventDuration,
		m.closes,
		m.changes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PrometheusMetrics) RecordEvent(eventType EventType, success bool, duration time.Duration) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.events.WithLabelValues(string(eventType), result).Inc()
	m.eventDuration.WithLabelValues(string(eventType)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordClose(result auction.CloseResult) {
	m.closes.WithLabelValues(string(result)).Inc()
}

func (m *PrometheusMetrics) RecordChange(kind auction.ChangeKind) {
	m.changes.WithLabelValues(string(kind)).Inc()
}

// RegisterStateGauges exposes the synchronizer and viewer counts as gauges
// read at scrape time.
func (m *PrometheusMetrics) RegisterStateGauges(synchronizer *auction.Synchronizer, cm *ConnectionManager) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tracked_leads",
			Help:      "Leads currently held by the synchronizer.",
		}, func() float64 { return float64(synchronizer.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "banners",
			Help:      "Auction-ended banners currently visible.",
		}, func() float64 { return float64(len(synchronizer.Banners())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "viewers",
			Help:      "Connected websocket viewers.",
		}, func() float64 { return float64(cm.Count()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
