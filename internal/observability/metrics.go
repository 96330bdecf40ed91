package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_translator_active_sessions",
		Help: "Number of streaming sessions in progress",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_sessions_total",
		Help: "Total number of streaming sessions by outcome",
	}, []string{"kind", "outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_translator_session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
	})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_translator_connect_latency_seconds",
		Help:    "Websocket handshake latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Frame metrics
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_frames_sent_total",
		Help: "Total websocket frames written",
	}, []string{"kind"})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_frames_received_total",
		Help: "Total websocket frames read",
	}, []string{"kind"})

	// Decoder metrics
	utterancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_results_total",
		Help: "Total decoded recognition results",
	}, []string{"type"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_decode_errors_total",
		Help: "Total inbound messages that failed to decode",
	}, []string{"decoder"})

	ttsSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_translator_tts_segments_total",
		Help: "Total synthesized audio segments received",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_translator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_translator_audio_bytes_total",
		Help: "Total audio bytes streamed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics tracks metrics for a single streaming session
type SessionMetrics struct {
	kind         string
	startTime    time.Time
	connectStart time.Time
	ended        bool
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker; kind is "translate" or "synthesize"
func NewSessionMetrics(kind string) *SessionMetrics {
	return &SessionMetrics{
		kind:      kind,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its outcome. Only the first call counts.
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionsTotal.WithLabelValues(m.kind, outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordConnectStart records the start of the websocket handshake
func (m *SessionMetrics) RecordConnectStart() {
	m.mu.Lock()
	m.connectStart = time.Now()
	m.mu.Unlock()
}

// RecordConnectEnd records the end of the websocket handshake
func (m *SessionMetrics) RecordConnectEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success && !m.connectStart.IsZero() {
		connectLatency.Observe(time.Since(m.connectStart).Seconds())
	}
	if !success {
		errorsTotal.WithLabelValues("connect", "translator").Inc()
	}
}

// RecordResult records a decoded recognition result
func (m *SessionMetrics) RecordResult(resultType string) {
	utterancesTotal.WithLabelValues(resultType).Inc()
}

// RecordDecodeError records a message that could not be decoded
func (m *SessionMetrics) RecordDecodeError(decoder string) {
	decodeErrors.WithLabelValues(decoder).Inc()
}

// RecordSegment records a completed synthesized audio segment
func (m *SessionMetrics) RecordSegment(bytes int64) {
	ttsSegments.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes streamed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordFrameSent counts an outbound websocket frame; kind is "binary" or "text"
func RecordFrameSent(kind string) {
	framesSent.WithLabelValues(kind).Inc()
}

// RecordFrameReceived counts an inbound websocket frame
func RecordFrameReceived(kind string) {
	framesReceived.WithLabelValues(kind).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
