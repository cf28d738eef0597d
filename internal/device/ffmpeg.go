package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/speech-relay/internal/capture"
)

const (
	defaultFFmpegCommand = "ffmpeg"
	defaultStartupGrace  = 250 * time.Millisecond
	defaultStopTimeout   = 1200 * time.Millisecond
	float32Bytes         = 4
)

// FFmpegConfig contains ffmpeg capture parameters
type FFmpegConfig struct {
	Command     string // ffmpeg binary, defaults to "ffmpeg"
	InputFormat string // -f value: pulse, alsa, avfoundation, dshow
	InputDevice string // -i value
}

// FFmpeg captures microphone audio by running ffmpeg and reading f32le samples from its stdout
type FFmpeg struct {
	config       FFmpegConfig
	logger       *slog.Logger
	startupGrace time.Duration
	stopTimeout  time.Duration
}

// NewFFmpeg creates an ffmpeg capture device
func NewFFmpeg(cfg FFmpegConfig, logger *slog.Logger) *FFmpeg {
	if cfg.Command == "" {
		cfg.Command = defaultFFmpegCommand
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	return &FFmpeg{
		config:       cfg,
		logger:       logger,
		startupGrace: defaultStartupGrace,
		stopTimeout:  defaultStopTimeout,
	}
}

// Open prepares an ffmpeg stream. The process is spawned by Start.
func (d *FFmpeg) Open(cfg capture.DeviceConfig, onFrame func(frame []float32)) (capture.Stream, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("only mono capture is supported, got %d channels", cfg.Channels)
	}
	if _, err := exec.LookPath(d.config.Command); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	if cfg.EchoCancellation {
		d.logger.Debug("Echo cancellation is not available through ffmpeg input",
			slog.String("input_format", d.config.InputFormat))
	}

	return &ffmpegStream{
		device:  d,
		config:  cfg,
		onFrame: onFrame,
	}, nil
}

func (d *FFmpeg) args(cfg capture.DeviceConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.config.InputFormat,
		"-i", d.config.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}
}

type ffmpegStream struct {
	device  *FFmpeg
	config  capture.DeviceConfig
	onFrame func(frame []float32)

	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	process  *os.Process
	waitErr  <-chan error
	readDone chan struct{}

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

func (s *ffmpegStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process != nil {
		return errors.New("ffmpeg stream already started")
	}

	cmd := exec.Command(s.device.config.Command, s.device.args(s.config)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg exits quickly when the input device cannot be opened
	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimOutput(stderr.String()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(s.device.startupGrace):
	}

	s.stdout = stdout
	s.stderr = &stderr
	s.process = cmd.Process
	s.waitErr = waitErr
	s.readDone = make(chan struct{})

	go s.readLoop(s.readDone)

	s.device.logger.Debug("ffmpeg capture started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("input_format", s.device.config.InputFormat),
		slog.String("input_device", s.device.config.InputDevice),
	)

	return nil
}

// readLoop decodes whole frames from ffmpeg stdout until the pipe closes
func (s *ffmpegStream) readLoop(done chan struct{}) {
	defer close(done)

	raw := make([]byte, s.config.FrameSize*float32Bytes)
	frame := make([]float32, s.config.FrameSize)

	for {
		if _, err := io.ReadFull(s.stdout, raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				s.device.logger.Warn("ffmpeg read failed", slog.String("error", err.Error()))
			}
			return
		}

		decodeFloat32LE(raw, frame)
		s.onFrame(frame)
	}
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.process == nil {
			return
		}

		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.closeErr = normalizeExitErr(err)
			}
		case <-time.After(s.device.stopTimeout):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.closeErr = normalizeExitErr(err)
			}
		}

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.closeErr == nil {
			s.closeErr = err
		}

		<-s.readDone

		if s.closeErr != nil && s.stderr.Len() > 0 {
			s.closeErr = fmt.Errorf("%w: %s", s.closeErr, trimOutput(s.stderr.String()))
		}
	})

	return s.closeErr
}

// decodeFloat32LE fills dst from little-endian IEEE 754 bytes
func decodeFloat32LE(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*float32Bytes:]))
	}
}

// normalizeExitErr treats a non-zero exit after interrupt as a clean stop
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(s string) string {
	return string(bytes.TrimSpace([]byte(s)))
}
