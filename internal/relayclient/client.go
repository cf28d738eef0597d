package relayclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/speech-relay/internal/audio"
)

// DefaultChunkSamples is the number of samples sent per request
const DefaultChunkSamples = 16000

// maxErrorBody bounds how much of a failed response is read for the error message
const maxErrorBody = 64 << 10

// Client posts captured audio to the relay and streams back transcript fragments
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalFragments  uint64
	totalSamples    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains relay client configuration
type Config struct {
	Endpoint     string
	Timeout      time.Duration
	ChunkSamples int
}

// StatusError is returned when the relay answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalFragments  uint64        `json:"total_fragments"`
	TotalSamples    uint64        `json:"total_samples"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

type transcribeRequest struct {
	AudioData []float32 `json:"audioData"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a new relay client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.ChunkSamples <= 0 {
		config.ChunkSamples = DefaultChunkSamples
	}

	// A zero timeout leaves the request bounded only by its context
	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Transcribe sends samples in ChunkSamples-sized requests, one after another,
// and calls onFragment for every non-blank line of every response in order.
func (c *Client) Transcribe(ctx context.Context, samples []float32, onFragment func(text string)) error {
	for _, chunk := range audio.SplitSamples(samples, c.config.ChunkSamples) {
		if err := c.transcribeChunk(ctx, chunk, onFragment); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) transcribeChunk(ctx context.Context, chunk []float32, onFragment func(text string)) error {
	startTime := time.Now()
	requestID := uuid.NewString()
	c.incrementTotalRequests(len(chunk))

	err := c.doRequest(ctx, requestID, chunk, onFragment)
	if err != nil {
		c.incrementFailedRequests()
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("request %s failed: %w", requestID, err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	c.logger.Debug("Chunk transcribed",
		slog.String("request_id", requestID),
		slog.Int("samples", len(chunk)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return nil
}

// doRequest performs a single POST and streams the response lines
func (c *Client) doRequest(ctx context.Context, requestID string, chunk []float32, onFragment func(text string)) error {
	body, err := json.Marshal(transcribeRequest{AudioData: chunk})
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		c.incrementFragments()
		if onFragment != nil {
			onFragment(line)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to read response stream: %w", err)
	}

	return nil
}

func readStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return statusErr
	}

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		statusErr.Message = errResp.Error
	} else {
		statusErr.Message = strings.TrimSpace(string(data))
	}

	return statusErr
}

// Statistics methods
func (c *Client) incrementTotalRequests(samples int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalSamples += uint64(samples)
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementFragments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalFragments++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalFragments:  c.totalFragments,
		TotalSamples:    c.totalSamples,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
