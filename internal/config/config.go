package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Recognizer providers
const (
	ProviderAWS      = "aws"
	ProviderDeepgram = "deepgram"
)

// Capture devices
const (
	DevicePortAudio = "portaudio"
	DeviceFFmpeg    = "ffmpeg"
	DeviceWAV       = "wav"
)

// Config represents the complete service configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	CORS       CORSConfig       `yaml:"cors"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Capture    CaptureConfig    `yaml:"capture"`
	Client     ClientConfig     `yaml:"client"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains relay HTTP server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// CORSConfig lists the browser origins allowed to call the relay
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AudioConfig contains audio format and relay framing parameters
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	Channels      int `yaml:"channels"`
	FrameBytes    int `yaml:"frame_bytes"`    // PCM bytes per recognizer frame
	FrameInterval int `yaml:"frame_interval"` // milliseconds between recognizer frames
	ChunkSamples  int `yaml:"chunk_samples"`  // samples per transcription request
}

// RecognizerConfig selects and configures the streaming speech recognizer
type RecognizerConfig struct {
	Provider     string         `yaml:"provider"`
	LanguageCode string         `yaml:"language_code"`
	AWS          AWSConfig      `yaml:"aws"`
	Deepgram     DeepgramConfig `yaml:"deepgram"`
}

// AWSConfig contains AWS Transcribe Streaming settings
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DeepgramConfig contains Deepgram live transcription settings
type DeepgramConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// CaptureConfig contains microphone capture parameters for the dictate client
type CaptureConfig struct {
	Device           string  `yaml:"device"`
	InputFormat      string  `yaml:"input_format"`   // ffmpeg -f value
	InputDevice      string  `yaml:"input_device"`   // ffmpeg -i value
	FrameSize        int     `yaml:"frame_size"`     // samples per device callback
	FlushInterval    int     `yaml:"flush_interval"` // milliseconds
	SilenceThreshold float32 `yaml:"silence_threshold"`
	EchoCancellation bool    `yaml:"echo_cancellation"`
}

// ClientConfig contains relay client configuration
type ClientConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a field is absent from the file
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:         3001,
			Address:      "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 120,
			MaxBodyBytes: 50 << 20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			FrameBytes:    2048,
			FrameInterval: 20,
			ChunkSamples:  16000,
		},
		Recognizer: RecognizerConfig{
			Provider:     ProviderAWS,
			LanguageCode: "en-US",
			AWS: AWSConfig{
				Region: "us-east-1",
			},
			Deepgram: DeepgramConfig{
				BaseURL: "https://api.deepgram.com/v1",
				Model:   "nova-2",
			},
		},
		Capture: CaptureConfig{
			Device:           DevicePortAudio,
			InputFormat:      "pulse",
			InputDevice:      "default",
			FrameSize:        4096,
			FlushInterval:    3000,
			SilenceThreshold: 0.01,
			EchoCancellation: true,
		},
		Client: ClientConfig{
			Endpoint: "http://localhost:3001/api/transcribe",
			Timeout:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	ApplyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadDefault returns the validated defaults with environment overrides applied.
// Commands fall back to it when no config file exists.
func LoadDefault() (*Config, error) {
	config := Default()
	ApplyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadEnv loads variables from dotenv files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	return nil
}

// ApplyEnv overrides configuration values from well-known environment variables
func ApplyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Recognizer.AWS.Region = v
	}

	if v := os.Getenv("AWS_PROFILE"); v != "" {
		c.Recognizer.AWS.Profile = v
	}

	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Recognizer.Deepgram.APIKey = v
	}

	if v := os.Getenv("RELAY_ENDPOINT"); v != "" {
		c.Client.Endpoint = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024 bytes, got %d", h.MaxBodyBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.FrameBytes < 2 || a.FrameBytes%2 != 0 {
		return fmt.Errorf("frame_bytes must be a positive even number, got %d", a.FrameBytes)
	}

	if a.FrameInterval < 0 {
		return fmt.Errorf("frame_interval cannot be negative, got %d", a.FrameInterval)
	}

	if a.ChunkSamples < 1 {
		return fmt.Errorf("chunk_samples must be at least 1, got %d", a.ChunkSamples)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	if r.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}

	switch r.Provider {
	case ProviderAWS:
		if r.AWS.Region == "" {
			return fmt.Errorf("aws region cannot be empty")
		}
	case ProviderDeepgram:
		if r.Deepgram.APIKey == "" {
			return fmt.Errorf("deepgram api_key cannot be empty")
		}
		if r.Deepgram.BaseURL == "" {
			return fmt.Errorf("deepgram base_url cannot be empty")
		}
	default:
		return fmt.Errorf("provider must be '%s' or '%s', got '%s'", ProviderAWS, ProviderDeepgram, r.Provider)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validDevices := map[string]bool{DevicePortAudio: true, DeviceFFmpeg: true, DeviceWAV: true}
	if !validDevices[c.Device] {
		return fmt.Errorf("device must be one of [portaudio, ffmpeg, wav], got '%s'", c.Device)
	}

	if c.FrameSize < 256 || c.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", c.FrameSize)
	}

	if c.FlushInterval < 1 {
		return fmt.Errorf("flush_interval must be at least 1 millisecond, got %d", c.FlushInterval)
	}

	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be in [0, 1), got %f", c.SilenceThreshold)
	}

	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", c.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetFrameIntervalDuration returns the pacing between recognizer frames
func (a *AudioConfig) GetFrameIntervalDuration() time.Duration {
	return time.Duration(a.FrameInterval) * time.Millisecond
}

// GetFlushIntervalDuration returns the capture flush threshold as a time.Duration
func (c *CaptureConfig) GetFlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Millisecond
}

// GetTimeoutDuration returns the client request timeout as a time.Duration
func (c *ClientConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
