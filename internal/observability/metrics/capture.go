package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for capture runs
type CaptureMetrics struct {
	capturesTotal       *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	locationSourceTotal *prometheus.CounterVec
	recordingSeconds    prometheus.Histogram
	countdownTicks      prometheus.Counter
	activeCaptures      prometheus.Gauge
}

// NewCaptureMetrics creates and registers capture metrics
func NewCaptureMetrics(registry prometheus.Registerer) (*CaptureMetrics, error) {
	m := &CaptureMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register capture metrics: %w", err)
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_captures_total",
			Help: "Total number of capture runs by result",
		},
		[]string{"result"}, // success, error, cancelled
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridenote_capture_stage_duration_seconds",
			Help:    "Time spent in each capture stage",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"stage"},
	)

	m.locationSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_location_source_total",
			Help: "Location fixes by source (gps, last-known, static, none)",
		},
		[]string{"source"},
	)

	m.recordingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ridenote_recording_length_seconds",
		Help:    "Length of stored voice notes",
		Buckets: prometheus.LinearBuckets(1, 2, 15),
	})

	m.countdownTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridenote_recording_ticks_total",
		Help: "Countdown ticks emitted while recording",
	})

	m.activeCaptures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridenote_capture_active",
		Help: "1 while a capture is running",
	})
}

func (m *CaptureMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.capturesTotal,
		m.stageDuration,
		m.locationSourceTotal,
		m.recordingSeconds,
		m.countdownTicks,
		m.activeCaptures,
	}
}

// Describe implements the Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// CaptureStarted marks a capture as active
func (m *CaptureMetrics) CaptureStarted() {
	m.activeCaptures.Set(1)
}

// CaptureFinished records the capture result
func (m *CaptureMetrics) CaptureFinished(result string) {
	m.activeCaptures.Set(0)
	m.capturesTotal.WithLabelValues(result).Inc()
}

// ObserveStage records the duration of one capture stage
func (m *CaptureMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordLocationSource counts where a fix came from
func (m *CaptureMetrics) RecordLocationSource(source string) {
	m.locationSourceTotal.WithLabelValues(source).Inc()
}

// ObserveRecording records the length of a stored clip
func (m *CaptureMetrics) ObserveRecording(d time.Duration) {
	m.recordingSeconds.Observe(d.Seconds())
}

// Tick counts one countdown step
func (m *CaptureMetrics) Tick() {
	m.countdownTicks.Inc()
}
