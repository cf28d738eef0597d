// Package deepgram streams PCM audio to the Deepgram live transcription websocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/speech-relay/internal/recognizer"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"
	writeTimeout   = 10 * time.Second
)

// Config controls Deepgram websocket settings
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	SmartFormat bool
}

// Provider implements recognizer.Recognizer for Deepgram
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewProvider creates a Deepgram provider, filling in default base URL and model
func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Provider{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Start dials the listen endpoint and begins reading transcript events
func (p *Provider) Start(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Stream, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("deepgram api key is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	p.logger.Debug("Deepgram stream opened",
		slog.String("model", p.cfg.Model),
		slog.String("language_code", cfg.LanguageCode),
	)

	s := &stream{
		conn:    conn,
		results: make(chan recognizer.Result, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

type stream struct {
	conn *websocket.Conn

	results chan recognizer.Result
	done    chan struct{}

	writeMu    sync.Mutex
	sendClosed bool

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *stream) Send(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sendClosed {
		return recognizer.ErrStreamClosed
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// CloseSend asks Deepgram to flush remaining results and end the stream
func (s *stream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sendClosed {
		return nil
	}
	s.sendClosed = true

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

func (s *stream) Results() <-chan recognizer.Result {
	return s.results
}

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *stream) setErr(err error) {
	if err == nil {
		return
	}
	if isNormalClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is a clean websocket close
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

func (s *stream) readLoop() {
	defer close(s.results)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed locally, read errors are expected
			default:
				s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		text := extractTranscript(response)
		if text == "" {
			continue
		}

		select {
		case s.results <- recognizer.Result{Text: text, IsFinal: response.IsFinal || response.SpeechFinal}:
		case <-s.done:
			return
		}
	}
}

type deepgramAlternative struct {
	Transcript string `json:"transcript"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func buildListenURL(providerCfg Config, streamCfg recognizer.StreamConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := streamCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", "true")
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if streamCfg.LanguageCode != "" {
		query.Set("language", streamCfg.LanguageCode)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
