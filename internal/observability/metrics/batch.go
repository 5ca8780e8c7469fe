package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BatchMetrics contains Prometheus metrics for batch runs and follow-up jobs
type BatchMetrics struct {
	itemsTotal    *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRunItems  *prometheus.GaugeVec
	queuePending  prometheus.Gauge
	queueDropped  prometheus.Gauge
	queueFinished *prometheus.GaugeVec
}

// NewBatchMetrics creates and registers batch metrics
func NewBatchMetrics(registry prometheus.Registerer) (*BatchMetrics, error) {
	m := &BatchMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register batch metrics: %w", err)
	}
	return m, nil
}

func (m *BatchMetrics) initMetrics() {
	m.itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_batch_items_total",
			Help: "Processed recordings by stage and resulting status",
		},
		[]string{"stage", "status"}, // stage: transcribe, osm; status: COMPLETED, FALLBACK, ERROR, DISABLED
	)

	m.itemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridenote_batch_item_duration_seconds",
			Help:    "Time taken to process one recording",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~160s
		},
		[]string{"stage"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_batch_runs_total",
			Help: "Batch runs by stage and result",
		},
		[]string{"stage", "result"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridenote_batch_run_duration_seconds",
			Help:    "Duration of batch runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount12), // 1s to ~1h
		},
		[]string{"stage"},
	)

	m.lastRunItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridenote_batch_last_run_items",
			Help: "Item counts of the most recent batch run",
		},
		[]string{"stage", "outcome"}, // outcome: processed, succeeded, failed, fallback
	)

	m.queuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridenote_jobqueue_pending_jobs",
		Help: "Follow-up jobs waiting to run",
	})

	m.queueDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridenote_jobqueue_dropped_jobs",
		Help: "Follow-up jobs dropped because the queue was full",
	})

	m.queueFinished = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridenote_jobqueue_finished_jobs",
			Help: "Follow-up jobs finished since start by result",
		},
		[]string{"result"},
	)
}

func (m *BatchMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.itemsTotal,
		m.itemDuration,
		m.runsTotal,
		m.runDuration,
		m.lastRunItems,
		m.queuePending,
		m.queueDropped,
		m.queueFinished,
	}
}

// Describe implements the Collector interface
func (m *BatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *BatchMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordItem records one processed recording
func (m *BatchMetrics) RecordItem(stage, status string, d time.Duration) {
	m.itemsTotal.WithLabelValues(stage, status).Inc()
	if d > 0 {
		m.itemDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordRun records a finished batch run
func (m *BatchMetrics) RecordRun(stage, result string, d time.Duration, processed, succeeded, failed, fallback int) {
	m.runsTotal.WithLabelValues(stage, result).Inc()
	m.runDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.lastRunItems.WithLabelValues(stage, "processed").Set(float64(processed))
	m.lastRunItems.WithLabelValues(stage, "succeeded").Set(float64(succeeded))
	m.lastRunItems.WithLabelValues(stage, "failed").Set(float64(failed))
	m.lastRunItems.WithLabelValues(stage, "fallback").Set(float64(fallback))
}

// UpdateQueue publishes a job queue snapshot
func (m *BatchMetrics) UpdateQueue(pending, dropped, succeeded, failed int) {
	m.queuePending.Set(float64(pending))
	m.queueDropped.Set(float64(dropped))
	m.queueFinished.WithLabelValues(ResultSuccess).Set(float64(succeeded))
	m.queueFinished.WithLabelValues(ResultError).Set(float64(failed))
}
