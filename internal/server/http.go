package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/speech-relay/internal/chat"
	"github.com/skypro1111/speech-relay/internal/config"
	"github.com/skypro1111/speech-relay/internal/metrics"
	"github.com/skypro1111/speech-relay/internal/relay"
)

const (
	serviceName    = "speech-relay"
	serviceVersion = "1.0.0"

	requestIDHeader = "X-Request-ID"
)

// HTTPServer serves the transcription and chat API plus monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	relay    *relay.Relay
	chat     *chat.Responder
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the relay HTTP server. Metrics are exposed from gatherer on /metrics.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, rl *relay.Relay, responder *chat.Responder,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		relay:     rl,
		chat:      responder,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = withCORS(cfg.CORS.AllowedOrigins, mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      h.handler,
		ReadTimeout:  cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the root handler with CORS applied
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe))
	mux.HandleFunc("/api/chat", h.withMetrics("/api/chat", h.handleChat))

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// No request metrics for the metrics endpoint itself
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer for Flush
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleTranscribe implements POST /api/transcribe.
// Fragments are streamed as newline-terminated plain text, flushed one by one.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(requestIDHeader, requestID)

	body := http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxBodyBytes)
	samples, err := relay.DecodeSamples(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("Transcription request body too large",
				slog.String("request_id", requestID),
				slog.Int64("limit", maxErr.Limit),
			)
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}

		h.logger.Warn("Invalid transcription request",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadRequest, "Invalid audio data")
		return
	}

	h.logger.Info("Transcription request received",
		slog.String("request_id", requestID),
		slog.Int("samples", len(samples)),
		slog.String("remote_addr", r.RemoteAddr),
	)

	rc := http.NewResponseController(w)
	streaming := false
	startStreaming := func() {
		if streaming {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		streaming = true
	}

	emit := func(text string) error {
		startStreaming()
		if _, err := io.WriteString(w, text+"\n"); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	err = h.relay.Transcribe(r.Context(), requestID, samples, emit)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			h.logger.Debug("Transcription aborted by client",
				slog.String("request_id", requestID),
			)
		case streaming:
			// Status is already sent, end the stream where it is
			h.logger.Error("Transcription failed after streaming started",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		default:
			h.logger.Error("Transcription failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	startStreaming()

	h.logger.Info("Transcription completed",
		slog.String("request_id", requestID),
	)
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat implements POST /api/chat
func (h *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reply, err := h.chat.Reply(req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			writeJSONError(w, http.StatusBadRequest, "Message cannot be empty")
			return
		}
		h.logger.Error("Failed to process chat message", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "Failed to process chat message")
		return
	}

	h.metrics.RecordChatMessage()
	h.logger.Debug("Chat message answered",
		slog.Int("message_length", len(req.Message)),
	)

	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trackerStats := h.relay.Tracker().GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"recognizer": map[string]interface{}{
				"status":   "configured",
				"provider": h.config.Recognizer.Provider,
			},
			"relay": map[string]interface{}{
				"status":          "running",
				"active_sessions": trackerStats.ActiveSessions,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"transcription": h.relay.Tracker().GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.relay.Tracker().GetAllSessions()

	response := map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	info, exists := h.relay.Tracker().GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Credentials and API keys are left out
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":           h.config.HTTP.Port,
			"address":        h.config.HTTP.Address,
			"read_timeout":   h.config.HTTP.ReadTimeout,
			"write_timeout":  h.config.HTTP.WriteTimeout,
			"max_body_bytes": h.config.HTTP.MaxBodyBytes,
		},
		"cors": map[string]interface{}{
			"allowed_origins": h.config.CORS.AllowedOrigins,
		},
		"audio": map[string]interface{}{
			"sample_rate":    h.config.Audio.SampleRate,
			"channels":       h.config.Audio.Channels,
			"frame_bytes":    h.config.Audio.FrameBytes,
			"frame_interval": h.config.Audio.FrameInterval,
			"chunk_samples":  h.config.Audio.ChunkSamples,
		},
		"recognizer": map[string]interface{}{
			"provider":       h.config.Recognizer.Provider,
			"language_code":  h.config.Recognizer.LanguageCode,
			"aws_region":     h.config.Recognizer.AWS.Region,
			"deepgram_url":   h.config.Recognizer.Deepgram.BaseURL,
			"deepgram_model": h.config.Recognizer.Deepgram.Model,
		},

		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Speech Relay",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                "API documentation",
			"POST /api/transcribe": "Stream transcript fragments for an audio batch",
			"POST /api/chat":       "Canned chat reply",
			"GET /health":          "Service health check",
			"GET /stats":           "Transcription statistics",
			"GET /sessions":        "List in-flight transcription sessions",
			"GET /sessions/{id}":   "Get a transcription session",
			"GET /config":          "Get service configuration",
			"GET /metrics":         "Prometheus metrics",
		},

		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
