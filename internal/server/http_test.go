package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/speech-relay/internal/chat"
	"github.com/skypro1111/speech-relay/internal/config"
	"github.com/skypro1111/speech-relay/internal/logging"
	"github.com/skypro1111/speech-relay/internal/metrics"
	"github.com/skypro1111/speech-relay/internal/recognizer"
	"github.com/skypro1111/speech-relay/internal/relay"
)

type stubRecognizer struct {
	fragments []string
	startErr  error
	streamErr error

	mu     sync.Mutex
	starts int
}

func (s *stubRecognizer) Start(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Stream, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	if s.startErr != nil {
		return nil, s.startErr
	}
	return &stubStream{rec: s, results: make(chan recognizer.Result, len(s.fragments))}, nil
}

func (s *stubRecognizer) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type stubStream struct {
	rec     *stubRecognizer
	results chan recognizer.Result
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (s *stubStream) Send(ctx context.Context, frame []byte) error { return nil }

func (s *stubStream) CloseSend() error {
	s.once.Do(func() {
		for _, text := range s.rec.fragments {
			s.results <- recognizer.Result{Text: text}
		}
		s.mu.Lock()
		s.err = s.rec.streamErr
		s.mu.Unlock()
		close(s.results)
	})
	return nil
}

func (s *stubStream) Results() <-chan recognizer.Result { return s.results }

func (s *stubStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubStream) Close() error {
	s.once.Do(func() { close(s.results) })
	return nil
}

type testServer struct {
	server   *HTTPServer
	rec      *stubRecognizer
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, rec *stubRecognizer, mutate func(c *config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := logging.Discard()
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	rl := relay.New(rec, relay.Config{
		LanguageCode: cfg.Recognizer.LanguageCode,
		SampleRate:   cfg.Audio.SampleRate,
		FrameBytes:   cfg.Audio.FrameBytes,
	}, relay.NewTracker(logger), m, logger)

	return &testServer{
		server:   NewHTTPServer(&cfg, logger, rl, chat.NewResponder(), m, registry),
		rec:      rec,
		metrics:  m,
		registry: registry,
	}
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode JSON error body: %v", err)
	}
	return body["error"]
}

func TestTranscribeStreamsFragments(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{fragments: []string{"hel", "lo wor", "ld"}}, nil)

	rec := ts.do(http.MethodPost, "/api/transcribe", `{"audioData":[0.1,0.2,-0.3]}`,
		map[string]string{"X-Request-ID": "req-42"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "hel\nlo wor\nld\n" {
		t.Errorf("Expected body %q, got %q", "hel\nlo wor\nld\n", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain content type, got %q", ct)
	}
	if id := rec.Header().Get("X-Request-ID"); id != "req-42" {
		t.Errorf("Expected request ID to be echoed, got %q", id)
	}
	if !rec.Flushed {
		t.Error("Expected fragments to be flushed")
	}

	if got := testutil.ToFloat64(ts.metrics.HTTPRequests.WithLabelValues("POST", "/api/transcribe", "200")); got != 1 {
		t.Errorf("Expected 1 recorded request, got %v", got)
	}
}

func TestTranscribeGeneratesRequestID(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{}, nil)

	rec := ts.do(http.MethodPost, "/api/transcribe", `{"audioData":[0.1]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected generated request ID header")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", rec.Body.String())
	}
}

func TestTranscribeInvalidAudioData(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"audioData":null}`,
		`{"audioData":"abc"}`,
		`{"audioData":{"a":1}}`,
		`{"audioData":[1,"x"]}`,
		`not json`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			ts := newTestServer(t, &stubRecognizer{fragments: []string{"x"}}, nil)

			rec := ts.do(http.MethodPost, "/api/transcribe", body, nil)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", rec.Code)
			}
			if msg := decodeError(t, rec); msg != "Invalid audio data" {
				t.Errorf("Expected 'Invalid audio data', got %q", msg)
			}
			if ts.rec.startCount() != 0 {
				t.Error("Recognizer must not be called for invalid input")
			}
		})
	}
}

func TestTranscribeUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{startErr: errors.New("credentials expired")}, nil)

	rec := ts.do(http.MethodPost, "/api/transcribe", `{"audioData":[0.1,0.2]}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Internal server error" {
		t.Errorf("Expected 'Internal server error', got %q", msg)
	}
	if got := testutil.ToFloat64(ts.metrics.HTTPErrors.WithLabelValues("POST", "/api/transcribe", "server_error")); got != 1 {
		t.Errorf("Expected 1 server error recorded, got %v", got)
	}
}

func TestTranscribeFailureAfterStreaming(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{
		fragments: []string{"partial"},
		streamErr: errors.New("stream reset"),
	}, nil)

	rec := ts.do(http.MethodPost, "/api/transcribe", `{"audioData":[0.1,0.2]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status to stay 200 once streaming, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "partial\n" {
		t.Errorf("Expected only the streamed fragment, got %q", got)
	}
}

func TestTranscribeBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{}, func(c *config.Config) {
		c.HTTP.MaxBodyBytes = 1024
	})

	body := `{"audioData":[` + strings.Repeat("0.123456,", 500) + `0]}`
	rec := ts.do(http.MethodPost, "/api/transcribe", body, nil)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", rec.Code)
	}
	if ts.rec.startCount() != 0 {
		t.Error("Recognizer must not be called for oversized input")
	}
}

func TestTranscribeMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{}, nil)

	rec := ts.do(http.MethodGet, "/api/transcribe", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedField  string
		expectedValue  string
	}{
		{
			name:           "greeting",
			body:           `{"message":"hello"}`,
			expectedStatus: http.StatusOK,
			expectedField:  "response",
			expectedValue:  "Hello! How can I help you today?",
		},
		{
			name:           "blank message",
			body:           `{"message":"   "}`,
			expectedStatus: http.StatusBadRequest,
			expectedField:  "error",
			expectedValue:  "Message cannot be empty",
		},
		{
			name:           "missing message",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedField:  "error",
			expectedValue:  "Message cannot be empty",
		},
		{
			name:           "malformed body",
			body:           `{"message":`,
			expectedStatus: http.StatusBadRequest,
			expectedField:  "error",
			expectedValue:  "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubRecognizer{}, nil)

			rec := ts.do(http.MethodPost, "/api/chat", tt.body, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if body[tt.expectedField] != tt.expectedValue {
				t.Errorf("Expected %s %q, got %q", tt.expectedField, tt.expectedValue, body[tt.expectedField])
			}
		})
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{}, nil)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rec := ts.do(http.MethodOptions, "/api/transcribe", "", map[string]string{
			"Origin":                        "http://localhost:5173",
			"Access-Control-Request-Method": "POST",
		})

		if rec.Code != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("Expected allowed origin header, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
			t.Errorf("Expected allowed methods, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
			t.Errorf("Expected allowed headers, got %q", got)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/chat", `{"message":"hi"}`, map[string]string{
			"Origin": "http://evil.example",
		})

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Expected no allow-origin header, got %q", got)
		}
	})
}

func TestMonitoringEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubRecognizer{}, func(c *config.Config) {
		c.Recognizer.Deepgram.APIKey = "dg-secret"
	})

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/", http.StatusOK},
		{"/health", http.StatusOK},
		{"/stats", http.StatusOK},
		{"/sessions", http.StatusOK},
		{"/sessions/unknown", http.StatusNotFound},
		{"/config", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}

	rec := ts.do(http.MethodGet, "/config", "", nil)
	if strings.Contains(rec.Body.String(), "dg-secret") {
		t.Error("Config endpoint must not expose API keys")
	}

	rec = ts.do(http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), "relay_http_requests_total") {
		t.Error("Expected relay metrics in /metrics output")
	}
}
