package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
	"github.com/skypro1111/speech-relay/internal/capture"
	"github.com/skypro1111/speech-relay/internal/config"
	"github.com/skypro1111/speech-relay/internal/device"
	"github.com/skypro1111/speech-relay/internal/device/portaudio"
	"github.com/skypro1111/speech-relay/internal/logging"
	"github.com/skypro1111/speech-relay/internal/relayclient"
)

const (
	defaultConfigPath = "configs/config.yaml"
	drainTimeout      = 30 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	deviceName := flag.String("device", "", "Capture device: portaudio, ffmpeg or wav (overrides config)")
	inputPath := flag.String("input", "", "WAV file to replay when -device=wav")
	recordPath := flag.String("record", "", "Write the voiced audio sent for transcription to this WAV file")
	duration := flag.Duration("duration", 0, "Stop capturing after this long (0 runs until interrupted)")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *deviceName != "" {
		cfg.Capture.Device = *deviceName
	}

	// Transcript goes to stdout, so logs never do
	if cfg.Logging.Output == "stdout" || cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	client, err := relayclient.NewClient(relayclient.Config{
		Endpoint:     cfg.Client.Endpoint,
		Timeout:      cfg.Client.GetTimeoutDuration(),
		ChunkSamples: cfg.Audio.ChunkSamples,
	}, logger)
	if err != nil {
		logger.Error("Failed to create relay client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	dev, finished, err := newDevice(cfg, *inputPath, logger)
	if err != nil {
		logger.Error("Failed to create capture device", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rec := &recorder{}
	transcribe := client.Transcribe
	if *recordPath != "" {
		transcribe = rec.tee(client.Transcribe)
	}

	capturer, err := capture.New(dev, transcribe, capture.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSize:        cfg.Capture.FrameSize,
		FlushInterval:    cfg.Capture.GetFlushIntervalDuration(),
		SilenceThreshold: cfg.Capture.SilenceThreshold,
		EchoCancellation: cfg.Capture.EchoCancellation,
	}, capture.Options{
		OnFragment: func(text string) {
			fmt.Println(text)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "transcription error: %v\n", err)
		},
	}, logger)
	if err != nil {
		logger.Error("Failed to create capturer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := capturer.Start(); err != nil {
		logger.Error("Failed to start capture",
			slog.String("device", cfg.Capture.Device),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Dictation started, press Ctrl+C to stop",
		slog.String("device", cfg.Capture.Device),
		slog.String("endpoint", cfg.Client.Endpoint),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-timeout:
		logger.Info("Capture duration reached", slog.Duration("duration", *duration))
	case <-finished:
		logger.Info("Input file finished")
	}

	if err := capturer.Stop(); err != nil {
		logger.Warn("Error stopping capture", slog.String("error", err.Error()))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	if err := capturer.Wait(drainCtx); err != nil {
		logger.Warn("Pending transcriptions did not finish", slog.String("error", err.Error()))
	}

	if *recordPath != "" {
		if err := rec.save(*recordPath, cfg.Audio.SampleRate); err != nil {
			logger.Error("Failed to save recording", slog.String("error", err.Error()))
		} else {
			logger.Info("Recording saved", slog.String("path", *recordPath))
		}
	}

	stats := capturer.Stats()
	clientStats := client.GetStats()
	logger.Info("Dictation finished",
		slog.Uint64("frames", stats.FramesSeen),
		slog.Uint64("silent_frames", stats.SilentFrames),
		slog.Uint64("flushes", stats.Flushes),
		slog.Uint64("fragments", stats.Fragments),
		slog.Uint64("failures", stats.Failures),
		slog.Uint64("requests", clientStats.TotalRequests),
		slog.Duration("avg_response_time", clientStats.AvgResponseTime),
	)
}

// loadConfig reads the config file, falling back to defaults when it does not exist
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return config.LoadDefault()
	}
	return nil, err
}

// newDevice builds the configured capture device. The returned channel is
// closed when a finite input runs out; it is nil for live devices.
func newDevice(cfg *config.Config, inputPath string, logger *slog.Logger) (capture.Device, <-chan struct{}, error) {
	switch cfg.Capture.Device {
	case config.DevicePortAudio:
		return portaudio.New(logger), nil, nil
	case config.DeviceFFmpeg:
		return device.NewFFmpeg(device.FFmpegConfig{
			InputFormat: cfg.Capture.InputFormat,
			InputDevice: cfg.Capture.InputDevice,
		}, logger), nil, nil
	case config.DeviceWAV:
		if inputPath == "" {
			return nil, nil, errors.New("-input is required for the wav device")
		}
		wavDevice := device.NewWAVFile(inputPath, true, logger)
		return wavDevice, wavDevice.Finished(), nil
	default:
		return nil, nil, fmt.Errorf("unknown capture device %q", cfg.Capture.Device)
	}
}

// recorder keeps a copy of every chunk handed to the relay
type recorder struct {
	samples []float32
	mu      sync.Mutex
}

func (r *recorder) tee(next capture.TranscribeFunc) capture.TranscribeFunc {
	return func(ctx context.Context, samples []float32, onFragment func(text string)) error {
		r.mu.Lock()
		r.samples = append(r.samples, samples...)
		r.mu.Unlock()
		return next(ctx, samples, onFragment)
	}
}

func (r *recorder) save(path string, sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		return errors.New("no voiced audio was captured")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := audio.WriteWAV(f, r.samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
