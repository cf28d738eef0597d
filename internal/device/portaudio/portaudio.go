// Package portaudio captures from the default input device through the
// PortAudio C library. Building it requires cgo and the PortAudio headers.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/skypro1111/speech-relay/internal/capture"
)

// Device opens callback streams on the system default input
type Device struct {
	logger *slog.Logger
}

// New creates a PortAudio capture device
func New(logger *slog.Logger) *Device {
	return &Device{logger: logger}
}

// Open initializes PortAudio and opens a mono float32 input stream of FrameSize frames.
// PortAudio is terminated again when the stream is closed.
func (d *Device) Open(cfg capture.DeviceConfig, onFrame func(frame []float32)) (capture.Stream, error) {
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("only mono capture is supported, got %d channels", cfg.Channels)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	input, err := pa.DefaultInputDevice()
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("failed to find default input device: %w", err)
	}

	paStream, err := pa.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSize, func(in []float32) {
		onFrame(in)
	})
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("failed to open input stream on %s: %w", input.Name, err)
	}

	if cfg.EchoCancellation {
		d.logger.Debug("Echo cancellation is left to the host audio system", slog.String("device", input.Name))
	}

	d.logger.Debug("PortAudio stream opened",
		slog.String("device", input.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_size", cfg.FrameSize),
	)

	return &inputStream{stream: paStream}, nil
}

type inputStream struct {
	stream  *pa.Stream
	started bool

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

func (s *inputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	s.started = true
	return nil
}

// Close stops the callback, closes the stream and releases PortAudio
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		var errs []error
		if s.started {
			if err := s.stream.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop input stream: %w", err))
			}
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close input stream: %w", err))
		}
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate PortAudio: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
