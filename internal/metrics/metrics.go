// Package metrics provides Prometheus metrics for the ingestion and mutation
// pipelines.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics related to image ingestion
// and derivation operations.
type PipelineMetrics struct {
	IngestsTotal       *prometheus.CounterVec
	IngestDuration     prometheus.Histogram
	MutationsTotal     *prometheus.CounterVec
	ThumbnailFallbacks prometheus.Counter
	AutoTagFailures    prometheus.Counter
	registry           *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics registered on
// the given registry. It returns an error if metric registration fails.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() error {
	m.IngestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagevault_ingests_total",
		Help: "Total number of ingestion attempts, partitioned by result.",
	}, []string{"result"})

	m.IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "imagevault_ingest_duration_seconds",
		Help:    "Duration of single-file ingestions in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagevault_mutations_total",
		Help: "Total number of crop and adjust operations, partitioned by kind and result.",
	}, []string{"kind", "result"})

	m.ThumbnailFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagevault_thumbnail_fallbacks_total",
		Help: "Total number of ingestions that fell back to the original as thumbnail.",
	})

	m.AutoTagFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagevault_autotag_failures_total",
		Help: "Total number of auto-tagging failures swallowed during ingestion.",
	})

	return nil
}

// RecordIngest increments the ingestion counter for a result label, one of
// "success" or "error".
func (m *PipelineMetrics) RecordIngest(result string) {
	m.IngestsTotal.WithLabelValues(result).Inc()
}

// ObserveIngestDuration records the duration of a single ingestion in seconds.
func (m *PipelineMetrics) ObserveIngestDuration(seconds float64) {
	m.IngestDuration.Observe(seconds)
}

// RecordMutation increments the mutation counter for a kind ("crop" or
// "adjust") and result.
func (m *PipelineMetrics) RecordMutation(kind, result string) {
	m.MutationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordThumbnailFallback increments the thumbnail fallback counter by one.
func (m *PipelineMetrics) RecordThumbnailFallback() {
	m.ThumbnailFallbacks.Inc()
}

// RecordAutoTagFailure increments the swallowed auto-tag failure counter by one.
func (m *PipelineMetrics) RecordAutoTagFailure() {
	m.AutoTagFailures.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IngestsTotal.Collect(ch)
	ch <- m.IngestDuration
	m.MutationsTotal.Collect(ch)
	ch <- m.ThumbnailFallbacks
	ch <- m.AutoTagFailures
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IngestsTotal.Describe(ch)
	ch <- m.IngestDuration.Desc()
	m.MutationsTotal.Describe(ch)
	ch <- m.ThumbnailFallbacks.Desc()
	ch <- m.AutoTagFailures.Desc()
}
