package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTranscriptionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTranscriptionStarted(16000)
	m.RecordTranscriptionStarted(8000)
	if got := testutil.ToFloat64(m.ActiveTranscriptions); got != 2 {
		t.Errorf("Expected 2 active transcriptions, got %v", got)
	}

	m.RecordTranscriptionSuccess(0.5)
	m.RecordTranscriptionFailure("upstream", 0.2)

	if got := testutil.ToFloat64(m.ActiveTranscriptions); got != 0 {
		t.Errorf("Expected 0 active transcriptions, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionRequests); got != 2 {
		t.Errorf("Expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionSuccesses); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("upstream")); got != 1 {
		t.Errorf("Expected 1 upstream failure, got %v", got)
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("POST", "/api/transcribe", "200", 0.1)
	m.RecordHTTPRequest("POST", "/api/transcribe", "400", 0.01)
	m.RecordHTTPError("POST", "/api/transcribe", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/transcribe", "200")); got != 1 {
		t.Errorf("Expected 1 request with status 200, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/api/transcribe", "client_error")); got != 1 {
		t.Errorf("Expected 1 client error, got %v", got)
	}
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so constructing twice must not panic
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
