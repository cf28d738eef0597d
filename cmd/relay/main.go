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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/speech-relay/internal/chat"
	"github.com/skypro1111/speech-relay/internal/config"
	"github.com/skypro1111/speech-relay/internal/logging"
	"github.com/skypro1111/speech-relay/internal/metrics"
	"github.com/skypro1111/speech-relay/internal/recognizer"
	"github.com/skypro1111/speech-relay/internal/recognizer/awstranscribe"
	"github.com/skypro1111/speech-relay/internal/recognizer/deepgram"
	"github.com/skypro1111/speech-relay/internal/relay"
	"github.com/skypro1111/speech-relay/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
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

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_bytes", cfg.Audio.FrameBytes),
		slog.Duration("frame_interval", cfg.Audio.GetFrameIntervalDuration()),
		slog.String("provider", cfg.Recognizer.Provider),
		slog.String("language_code", cfg.Recognizer.LanguageCode),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	rec, err := newRecognizer(ctx, cfg.Recognizer, logger)
	if err != nil {
		logger.Error("Failed to initialize recognizer",
			slog.String("provider", cfg.Recognizer.Provider),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Recognizer initialized", slog.String("provider", cfg.Recognizer.Provider))

	tracker := relay.NewTracker(logger)
	rl := relay.New(rec, relay.Config{
		LanguageCode:  cfg.Recognizer.LanguageCode,
		SampleRate:    cfg.Audio.SampleRate,
		FrameBytes:    cfg.Audio.FrameBytes,
		FrameInterval: cfg.Audio.GetFrameIntervalDuration(),
	}, tracker, appMetrics, logger)

	httpServer := server.NewHTTPServer(cfg, logger, rl, chat.NewResponder(), appMetrics, prometheus.DefaultGatherer)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := tracker.GetStats()
	logger.Info("Final relay statistics",
		slog.Uint64("sessions_started", stats.TotalStarted),
		slog.Uint64("sessions_completed", stats.TotalCompleted),
		slog.Uint64("sessions_failed", stats.TotalFailed),
		slog.Uint64("fragments", stats.TotalFragments),
	)

	logger.Info("Service stopped")
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

// newRecognizer builds the configured streaming recognizer
func newRecognizer(ctx context.Context, cfg config.RecognizerConfig, logger *slog.Logger) (recognizer.Recognizer, error) {
	switch cfg.Provider {
	case config.ProviderAWS:
		return awstranscribe.New(ctx, awstranscribe.Config{
			Region:          cfg.AWS.Region,
			Profile:         cfg.AWS.Profile,
			CredentialsFile: cfg.AWS.CredentialsFile,
		}, logger)
	case config.ProviderDeepgram:
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			BaseURL:     cfg.Deepgram.BaseURL,
			Model:       cfg.Deepgram.Model,
			SmartFormat: true,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", cfg.Provider)
	}
}
