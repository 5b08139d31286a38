package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ASR client collectors. Each instance registers on its own
// Registerer so several clients (or tests) never share counters. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestAttempts prometheus.Histogram
	requestLatency  prometheus.Histogram
	retries         *prometheus.CounterVec
	connectionState prometheus.Gauge
	transitions     *prometheus.CounterVec
	pending         prometheus.Gauge
	queueRejections prometheus.Counter
	probes          *prometheus.CounterVec
	cache           *prometheus.CounterVec
	audioBytes      prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_requests_total",
			Help: "Total number of transcription requests by outcome",
		}, []string{"outcome"}), // outcome: "success" or an error kind

		requestAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_gateway_request_attempts",
			Help:    "Network attempts made per logical transcription request",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		}),

		requestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_gateway_request_duration_seconds",
			Help:    "End-to-end transcription latency in seconds, retries included",
			Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_retries_total",
			Help: "Total number of request retries by triggering error kind",
		}, []string{"kind"}),

		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_gateway_connection_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=connected, 3=error)",
		}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_state_transitions_total",
			Help: "Total number of connection state transitions",
		}, []string{"from", "to"}),

		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_gateway_pending_requests",
			Help: "Requests queued while the endpoint is not connected",
		}),

		queueRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_gateway_queue_rejections_total",
			Help: "Requests rejected because the pending queue was full",
		}),

		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_health_probes_total",
			Help: "Total number of endpoint health probes by result",
		}, []string{"result"}),

		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),

		audioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_gateway_audio_bytes_total",
			Help: "Total audio bytes submitted for transcription",
		}),
	}
}

// RecordRequest records the final outcome of one logical request
func (m *Metrics) RecordRequest(outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.requestAttempts.Observe(float64(attempts))
	}
	m.requestLatency.Observe(elapsed.Seconds())
}

// RecordRetry records a retry triggered by an error kind
func (m *Metrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// RecordTransition records a connection state change
func (m *Metrics) RecordTransition(from, to string, state int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.connectionState.Set(float64(state))
}

// SetPending updates the pending queue gauge
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// RecordQueueRejection records a request refused by a full queue
func (m *Metrics) RecordQueueRejection() {
	if m == nil {
		return
	}
	m.queueRejections.Inc()
}

// RecordProbe records a health probe result
func (m *Metrics) RecordProbe(healthy bool) {
	if m == nil {
		return
	}
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	m.probes.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.cache.WithLabelValues(result).Inc()
}

// RecordAudioBytes records audio bytes submitted
func (m *Metrics) RecordAudioBytes(n int) {
	if m == nil {
		return
	}
	m.audioBytes.Add(float64(n))
}
