// Package metrics exposes the Prometheus collectors of the alignment
// service and the rolling per-stage latency view served on the stats
// endpoint.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tocalign"

// Label match outcomes.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	documents     *prometheus.CounterVec
	labels        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	queueDepth    prometheus.Gauge

	window time.Duration
	mu     sync.Mutex
	stages map[string]*LatencyStats
}

// New registers all collectors on a fresh registry. window bounds the
// rolling latency view.
func New(window time.Duration) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed, by final status.",
		}, []string{"status"}),
		labels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labels_total",
			Help:      "Outline labels aligned, by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Alignment jobs waiting for a worker.",
		}),
		window: window,
		stages: make(map[string]*LatencyStats),
	}
	m.registry.MustRegister(
		m.documents,
		m.labels,
		m.stageDuration,
		m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage duration in both the histogram and the
// rolling latency view.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageStats(stage).Record(d)
}

// DocumentDone counts a finished document by status.
func (m *Metrics) DocumentDone(status string) {
	m.documents.WithLabelValues(status).Inc()
}

// LabelsAligned counts matched and unmatched labels of one document.
func (m *Metrics) LabelsAligned(matched, unmatched int) {
	m.labels.WithLabelValues(OutcomeMatched).Add(float64(matched))
	m.labels.WithLabelValues(OutcomeUnmatched).Add(float64(unmatched))
}

// SetQueueDepth reports the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Latency snapshots the rolling latency of every stage seen so far.
func (m *Metrics) Latency() map[string]StatsSnapshot {
	m.mu.Lock()
	stages := make(map[string]*LatencyStats, len(m.stages))
	for name, s := range m.stages {
		stages[name] = s
	}
	m.mu.Unlock()

	out := make(map[string]StatsSnapshot, len(stages))
	for name, s := range stages {
		out[name] = s.Snapshot()
	}
	return out
}

func (m *Metrics) stageStats(stage string) *LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stage]
	if !ok {
		s = NewLatencyStats(m.window)
		m.stages[stage] = s
	}
	return s
}
