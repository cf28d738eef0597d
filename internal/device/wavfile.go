package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
	"github.com/skypro1111/speech-relay/internal/capture"
)

// WAVFile replays a mono 16-bit WAV file as capture frames
type WAVFile struct {
	path     string
	realtime bool
	logger   *slog.Logger

	finished   chan struct{}
	finishOnce sync.Once
}

// NewWAVFile creates a file device. With realtime set, frames are paced at the
// file's sample rate; otherwise they are delivered as fast as the callback returns.
func NewWAVFile(path string, realtime bool, logger *slog.Logger) *WAVFile {
	return &WAVFile{
		path:     path,
		realtime: realtime,
		logger:   logger,
		finished: make(chan struct{}),
	}
}

// Finished is closed once a stream has delivered every frame of the file
func (d *WAVFile) Finished() <-chan struct{} {
	return d.finished
}

func (d *WAVFile) finish() {
	d.finishOnce.Do(func() {
		close(d.finished)
	})
}

// Open decodes the file. Its sample rate must match the requested rate.
func (d *WAVFile) Open(cfg capture.DeviceConfig, onFrame func(frame []float32)) (capture.Stream, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}

	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	samples, info, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", d.path, err)
	}

	if info.SampleRate != cfg.SampleRate {
		return nil, fmt.Errorf("WAV sample rate %d Hz does not match capture rate %d Hz", info.SampleRate, cfg.SampleRate)
	}

	d.logger.Info("Replaying WAV file",
		slog.String("path", d.path),
		slog.Float64("duration", info.Duration),
		slog.Int("samples", info.NumSamples),
	)

	var interval time.Duration
	if d.realtime {
		interval = time.Duration(float64(cfg.FrameSize) / float64(cfg.SampleRate) * float64(time.Second))
	}

	return &wavStream{
		frames:   audio.SplitSamples(samples, cfg.FrameSize),
		interval: interval,
		onFrame:  onFrame,
		finished: d.finish,
		stop:     make(chan struct{}),
	}, nil
}

type wavStream struct {
	frames   [][]float32
	interval time.Duration
	onFrame  func(frame []float32)

	finished func()
	stop     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func (s *wavStream) Start() error {
	started := false
	s.startOnce.Do(func() {
		started = true
		s.done = make(chan struct{})
		go s.replay()
	})
	if !started {
		return errors.New("WAV stream already started")
	}
	return nil
}

func (s *wavStream) replay() {
	defer close(s.done)

	var ticker *time.Ticker
	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	for _, frame := range s.frames {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		} else {
			select {
			case <-s.stop:
				return
			default:
			}
		}

		s.onFrame(frame)
	}

	s.finished()
}

func (s *wavStream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	// Start and Close are not called concurrently by the capturer
	if s.done != nil {
		<-s.done
	}
	return nil
}
