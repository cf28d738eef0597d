package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
	"github.com/skypro1111/speech-relay/internal/vad"
)

var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened or started
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrAlreadyCapturing is returned by Start while a capture is running
	ErrAlreadyCapturing = errors.New("already capturing")
)

// DeviceConfig describes the stream requested from a capture device
type DeviceConfig struct {
	SampleRate       int
	Channels         int
	FrameSize        int
	EchoCancellation bool
}

// Device opens audio input streams. onFrame is called from the device goroutine
// with FrameSize mono samples; the slice may be reused after it returns.
type Device interface {
	Open(cfg DeviceConfig, onFrame func(frame []float32)) (Stream, error)
}

// Stream is an open device stream. Close stops delivery and releases the device.
type Stream interface {
	Start() error
	Close() error
}

// TranscribeFunc sends one chunk for transcription and calls onFragment per fragment received
type TranscribeFunc func(ctx context.Context, samples []float32, onFragment func(text string)) error

// Config contains capture parameters
type Config struct {
	SampleRate       int
	FrameSize        int
	FlushInterval    time.Duration
	SilenceThreshold float32
	EchoCancellation bool
}

// Options carries the capturer callbacks. All are optional.
type Options struct {
	// OnFragment receives transcript fragments in arrival order
	OnFragment func(text string)
	// OnError receives transcription failures; cancellations are not reported
	OnError func(err error)
	// Now is the clock used for flush timing
	Now func() time.Time
}

// Stats contains capturer counters
type Stats struct {
	Capturing    bool        `json:"capturing"`
	FramesSeen   uint64      `json:"frames_seen"`
	SilentFrames uint64      `json:"silent_frames"`
	Flushes      uint64      `json:"flushes"`
	Fragments    uint64      `json:"fragments"`
	Failures     uint64      `json:"failures"`
	Aborted      uint64      `json:"aborted"`
	Queued       int         `json:"queued"`
	Buffer       BufferStats `json:"buffer"`
}

// Capturer buffers voiced microphone audio and transcribes it in chunks
type Capturer struct {
	device     Device
	transcribe TranscribeFunc
	config     Config
	options    Options
	logger     *slog.Logger

	gate    *vad.SilenceGate
	buffer  *frameBuffer
	trigger *flushTrigger

	// Capture state
	capturing bool
	stream    Stream

	// Flush worker state
	queue          [][]float32
	workerRunning  bool
	workerDone     chan struct{}
	inflightCancel context.CancelFunc

	// Statistics
	flushes   uint64
	fragments uint64
	failures  uint64
	aborted   uint64

	mu sync.Mutex
}

// New creates a capturer reading from device and sending chunks through transcribe
func New(device Device, transcribe TranscribeFunc, cfg Config, opts Options, logger *slog.Logger) (*Capturer, error) {
	if device == nil {
		return nil, errors.New("capture device is required")
	}
	if transcribe == nil {
		return nil, errors.New("transcribe function is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %v", cfg.FlushInterval)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gate, err := vad.NewSilenceGate(cfg.SilenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence gate: %w", err)
	}

	return &Capturer{
		device:     device,
		transcribe: transcribe,
		config:     cfg,
		options:    opts,
		logger:     logger,
		gate:       gate,
		buffer:     newFrameBuffer(cfg.SampleRate),
		trigger:    newFlushTrigger(cfg.FlushInterval),
	}, nil
}

// Start opens the device and begins capturing.
// On failure nothing is held and the capturer stays idle.
func (c *Capturer) Start() error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}

	devCfg := DeviceConfig{
		SampleRate:       c.config.SampleRate,
		Channels:         1,
		FrameSize:        c.config.FrameSize,
		EchoCancellation: c.config.EchoCancellation,
	}

	stream, err := c.device.Open(devCfg, c.handleFrame)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	// Frames can arrive as soon as the stream starts, so capture state is set first
	c.buffer.reset()
	c.trigger.reset(c.options.Now())
	c.capturing = true
	c.stream = stream
	c.mu.Unlock()

	if err := stream.Start(); err != nil {
		c.mu.Lock()
		if c.stream == stream {
			c.capturing = false
			c.stream = nil
		}
		c.mu.Unlock()

		if closeErr := stream.Close(); closeErr != nil {
			c.logger.Warn("Failed to release capture device", slog.String("error", closeErr.Error()))
		}
		c.buffer.reset()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	c.logger.Info("Capture started",
		slog.Int("sample_rate", devCfg.SampleRate),
		slog.Int("frame_size", devCfg.FrameSize),
		slog.Duration("flush_interval", c.config.FlushInterval),
		slog.Float64("silence_threshold", float64(c.gate.GetThreshold())),
	)

	return nil
}

// handleFrame is the device callback. It never blocks on transcription.
// The capturing check and the buffer add share one critical section so no
// frame is buffered after Stop has taken its final flush.
func (c *Capturer) handleFrame(frame []float32) {
	c.mu.Lock()
	if !c.capturing || c.gate.IsSilent(frame) {
		c.mu.Unlock()
		return
	}
	c.buffer.add(frame)
	due := c.trigger.check(c.options.Now())
	c.mu.Unlock()

	if due {
		c.Flush()
	}
}

// Flush hands the buffered audio to the transcription worker. An empty buffer is a no-op.
func (c *Capturer) Flush() {
	samples := c.buffer.drain()
	if len(samples) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushes++
	c.queue = append(c.queue, samples)

	c.logger.Debug("Audio chunk flushed",
		slog.Int("samples", len(samples)),
		slog.Float64("duration", audio.Duration(len(samples), c.config.SampleRate)),
		slog.Int("queued", len(c.queue)),
	)

	if !c.workerRunning {
		c.workerRunning = true
		c.workerDone = make(chan struct{})
		go c.runWorker(c.workerDone)
	}
}

// Stop releases the device, cancels the request in flight and flushes what is left.
// The final chunk is still transcribed; use Wait to block until it is done.
// Stop is idempotent.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	stream := c.stream
	wasCapturing := c.capturing
	c.capturing = false
	c.stream = nil
	if c.inflightCancel != nil {
		c.inflightCancel()
		c.inflightCancel = nil
	}
	c.mu.Unlock()

	var closeErr error
	if stream != nil {
		if err := stream.Close(); err != nil {
			closeErr = fmt.Errorf("failed to release capture device: %w", err)
			c.logger.Warn("Failed to release capture device", slog.String("error", err.Error()))
		}
	}

	c.Flush()

	if wasCapturing {
		gateStats := c.gate.GetStats()
		c.logger.Info("Capture stopped",
			slog.Uint64("frames", gateStats.TotalFrames),
			slog.Uint64("voiced_frames", gateStats.VoicedFrames),
			slog.Float64("voice_percentage", gateStats.VoicePercentage),
		)
	}

	return closeErr
}

// Wait blocks until every flushed chunk has been transcribed or ctx is done
func (c *Capturer) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.workerRunning {
			c.mu.Unlock()
			return nil
		}
		done := c.workerDone
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsCapturing reports whether the device is open
func (c *Capturer) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Stats returns current capturer statistics
func (c *Capturer) Stats() Stats {
	gateStats := c.gate.GetStats()

	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Capturing:    c.capturing,
		FramesSeen:   gateStats.TotalFrames,
		SilentFrames: gateStats.SilentFrames,
		Flushes:      c.flushes,
		Fragments:    c.fragments,
		Failures:     c.failures,
		Aborted:      c.aborted,
		Queued:       len(c.queue),
		Buffer:       c.buffer.stats(),
	}
}

// runWorker transcribes queued chunks in order and exits once the queue is empty
func (c *Capturer) runWorker(done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.workerRunning = false
			c.mu.Unlock()
			return
		}
		samples := c.queue[0]
		c.queue = c.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		c.inflightCancel = cancel
		c.mu.Unlock()

		c.process(ctx, samples)

		c.mu.Lock()
		c.inflightCancel = nil
		c.mu.Unlock()
		cancel()
	}
}

func (c *Capturer) process(ctx context.Context, samples []float32) {
	startTime := time.Now()

	err := c.transcribe(ctx, samples, func(text string) {
		c.mu.Lock()
		c.fragments++
		c.mu.Unlock()

		if c.options.OnFragment != nil {
			c.options.OnFragment(text)
		}
	})

	if err == nil {
		c.logger.Debug("Chunk transcribed",
			slog.Int("samples", len(samples)),
			slog.Duration("elapsed", time.Since(startTime)),
		)
		return
	}

	if errors.Is(err, context.Canceled) {
		c.mu.Lock()
		c.aborted++
		c.mu.Unlock()

		c.logger.Debug("Transcription aborted", slog.Int("samples", len(samples)))
		return
	}

	c.mu.Lock()
	c.failures++
	c.mu.Unlock()

	c.logger.Error("Transcription failed",
		slog.Int("samples", len(samples)),
		slog.String("error", err.Error()),
	)

	if c.options.OnError != nil {
		c.options.OnError(err)
	}
}
