package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech relay
type Metrics struct {
	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	ActiveTranscriptions   prometheus.Gauge

	// Audio metrics
	SamplesReceived prometheus.Histogram
	FramesSent      prometheus.Counter
	FragmentsSent   prometheus.Counter

	// Chat metrics
	ChatMessages prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all relay metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_requests_total",
			Help: "Total number of transcription requests accepted",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_successes_total",
			Help: "Total number of transcription requests completed",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"reason"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),
		ActiveTranscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_transcriptions",
			Help: "Current number of in-flight transcription requests",
		}),

		SamplesReceived: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_request_samples",
			Help:    "Number of audio samples per transcription request",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 8), // 1024 to ~131k samples
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_recognizer_frames_sent_total",
			Help: "Total number of PCM frames sent to the recognizer",
		}),
		FragmentsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcript_fragments_total",
			Help: "Total number of transcript fragments streamed to callers",
		}),

		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_chat_messages_total",
			Help: "Total number of chat messages answered",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTranscriptionStarted records an accepted request and its size
func (m *Metrics) RecordTranscriptionStarted(samples int) {
	m.TranscriptionRequests.Inc()
	m.ActiveTranscriptions.Inc()
	m.SamplesReceived.Observe(float64(samples))
}

// RecordTranscriptionSuccess records a completed transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.ActiveTranscriptions.Dec()
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(reason string, durationSeconds float64) {
	m.ActiveTranscriptions.Dec()
	m.TranscriptionFailures.WithLabelValues(reason).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordFrameSent increments the recognizer frames counter
func (m *Metrics) RecordFrameSent() {
	m.FramesSent.Inc()
}

// RecordFragment increments the transcript fragments counter
func (m *Metrics) RecordFragment() {
	m.FragmentsSent.Inc()
}

// RecordChatMessage increments the chat messages counter
func (m *Metrics) RecordChatMessage() {
	m.ChatMessages.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
