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
		Name: "guardian_active_sessions",
		Help: "Number of active consultation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_sessions_total",
		Help: "Total number of consultation sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardian_session_duration_seconds",
		Help:    "Duration of consultation sessions in seconds",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	// Safety check metrics
	safetyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_safety_checks_total",
		Help: "Total number of safety checks by verdict level",
	}, []string{"level"})

	safetyCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardian_safety_check_latency_seconds",
		Help:    "End-to-end safety check latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_interruptions_total",
		Help: "Total number of spoken interruptions delivered",
	})

	fallbackVerdicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_fallback_verdicts_total",
		Help: "Safety verdicts produced by the local rule engine instead of the reasoning capability",
	})

	// Capability metrics
	capabilityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_capability_requests_total",
		Help: "Total number of external capability requests",
	}, []string{"capability", "status"})

	// Transcription stream metrics
	streamConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_stream_connects_total",
		Help: "Transcription stream connect attempts",
	}, []string{"status"})

	audioBytesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_audio_bytes_dropped_total",
		Help: "Audio bytes dropped while the transcription stream was down",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single consultation session
type Metrics struct {
	sessionID      string
	startTime      time.Time
	checkStartTime time.Time
	mu             sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordCheckStart records the start of a safety check
func (m *Metrics) RecordCheckStart() {
	m.mu.Lock()
	m.checkStartTime = time.Now()
	m.mu.Unlock()
}

// RecordCheckEnd records the completion of a safety check with its verdict level
func (m *Metrics) RecordCheckEnd(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkStartTime.IsZero() {
		safetyCheckLatency.Observe(time.Since(m.checkStartTime).Seconds())
	}
	safetyChecks.WithLabelValues(level).Inc()
}

// RecordInterruption records one delivered interruption
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordFallbackVerdict records a verdict produced by the local rule engine
func RecordFallbackVerdict() {
	fallbackVerdicts.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordCapabilityRequest records one external capability call
func RecordCapabilityRequest(capability string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	capabilityRequests.WithLabelValues(capability, status).Inc()
}

// RecordStreamConnect records a transcription stream connect attempt
func RecordStreamConnect(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	streamConnects.WithLabelValues(status).Inc()
}

// RecordAudioDropped records audio bytes dropped during a stream gap
func RecordAudioDropped(bytes int64) {
	audioBytesDropped.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
