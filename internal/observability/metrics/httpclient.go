package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/ridenote/internal/httpclient"
	"github.com/tphakala/ridenote/internal/logger"
)

// HTTPClientMetrics tracks outbound API calls made through httpclient.Client
// and inbound API requests
type HTTPClientMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	serverRequests  *prometheus.CounterVec
	serverDuration  *prometheus.HistogramVec

	inflight sync.Map // *http.Request -> time.Time
}

// NewHTTPClientMetrics creates and registers HTTP metrics
func NewHTTPClientMetrics(registry prometheus.Registerer) (*HTTPClientMetrics, error) {
	m := &HTTPClientMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPClientMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_http_client_requests_total",
			Help: "Outbound HTTP requests by service and status code",
		},
		[]string{"service", "method", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridenote_http_client_request_duration_seconds",
			Help:    "Outbound HTTP request latency until headers arrive",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"service"},
	)

	m.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridenote_http_client_errors_total",
			Help: "Outbound HTTP requests that failed without a response",
		},
		[]string{"service"},
	)

	m.serverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.serverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP API requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)
}

func (m *HTTPClientMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.requestErrors,
		m.serverRequests,
		m.serverDuration,
	}
}

// Describe implements the Collector interface
func (m *HTTPClientMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPClientMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Attach installs request hooks on client, labelling its calls with service
func (m *HTTPClientMetrics) Attach(client *httpclient.Client, service string) {
	if m == nil || client == nil {
		return
	}
	client.SetBeforeRequestHook(func(req *http.Request) {
		m.inflight.Store(req, time.Now())
	})
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		if v, ok := m.inflight.LoadAndDelete(req); ok {
			m.requestDuration.WithLabelValues(service).Observe(time.Since(v.(time.Time)).Seconds())
		}
		if err != nil {
			m.requestErrors.WithLabelValues(service).Inc()
			return
		}
		m.requestsTotal.WithLabelValues(service, req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	})
	log.Debug("attached HTTP client metrics", logger.String("service", service))
}

// RecordServerRequest records one handled API request
func (m *HTTPClientMetrics) RecordServerRequest(method, path string, status int, d time.Duration) {
	m.serverRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.serverDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
