package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "AWS_REGION", "AWS_PROFILE", "DEEPGRAM_API_KEY", "RELAY_ENDPOINT"} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if config.Audio.FrameBytes != 2048 {
		t.Errorf("Expected 2048 frame bytes, got %d", config.Audio.FrameBytes)
	}
	if config.Capture.FrameSize != 4096 {
		t.Errorf("Expected 4096 frame size, got %d", config.Capture.FrameSize)
	}
	if config.Capture.SilenceThreshold != 0.01 {
		t.Errorf("Expected 0.01 silence threshold, got %f", config.Capture.SilenceThreshold)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name:     "empty http address",
			mutate:   func(c *Config) { c.HTTP.Address = "" },
			errorMsg: "http address cannot be empty",
		},
		{
			name:     "tiny body limit",
			mutate:   func(c *Config) { c.HTTP.MaxBodyBytes = 10 },
			errorMsg: "max_body_bytes must be at least 1024",
		},
		{
			name:     "wrong sample rate",
			mutate:   func(c *Config) { c.Audio.SampleRate = 8000 },
			errorMsg: "sample_rate must be 16000",
		},
		{
			name:     "stereo audio",
			mutate:   func(c *Config) { c.Audio.Channels = 2 },
			errorMsg: "channels must be 1",
		},
		{
			name:     "odd frame bytes",
			mutate:   func(c *Config) { c.Audio.FrameBytes = 2047 },
			errorMsg: "frame_bytes must be a positive even number",
		},
		{
			name:     "negative frame interval",
			mutate:   func(c *Config) { c.Audio.FrameInterval = -1 },
			errorMsg: "frame_interval cannot be negative",
		},
		{
			name:     "unknown provider",
			mutate:   func(c *Config) { c.Recognizer.Provider = "watson" },
			errorMsg: "provider must be",
		},
		{
			name:     "aws without region",
			mutate:   func(c *Config) { c.Recognizer.AWS.Region = "" },
			errorMsg: "aws region cannot be empty",
		},
		{
			name:     "deepgram without key",
			mutate:   func(c *Config) { c.Recognizer.Provider = ProviderDeepgram },
			errorMsg: "deepgram api_key cannot be empty",
		},
		{
			name: "deepgram with key",
			mutate: func(c *Config) {
				c.Recognizer.Provider = ProviderDeepgram
				c.Recognizer.Deepgram.APIKey = "dg-key"
			},
		},
		{
			name:     "empty language",
			mutate:   func(c *Config) { c.Recognizer.LanguageCode = "" },
			errorMsg: "language_code cannot be empty",
		},
		{
			name:     "unknown device",
			mutate:   func(c *Config) { c.Capture.Device = "alsa" },
			errorMsg: "device must be one of",
		},
		{
			name:     "silence threshold out of range",
			mutate:   func(c *Config) { c.Capture.SilenceThreshold = 1.5 },
			errorMsg: "silence_threshold must be in [0, 1)",
		},
		{
			name:     "zero flush interval",
			mutate:   func(c *Config) { c.Capture.FlushInterval = 0 },
			errorMsg: "flush_interval must be at least 1",
		},
		{
			name:     "empty client endpoint",
			mutate:   func(c *Config) { c.Client.Endpoint = "" },
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be one of",
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)

			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}

			if err == nil {
				t.Errorf("Expected error but got none")
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "full config file",
			configYAML: `
http:
  port: 8080
  address: "127.0.0.1"
  read_timeout: 10
  write_timeout: 60
  max_body_bytes: 1048576
cors:
  allowed_origins: ["http://localhost:3000", "http://localhost:5173"]
audio:
  sample_rate: 16000
  channels: 1
  frame_bytes: 4096
  frame_interval: 10
  chunk_samples: 8000
recognizer:
  provider: deepgram
  language_code: en-GB
  deepgram:
    api_key: "dg-test"
    model: nova-2
capture:
  device: ffmpeg
  flush_interval: 2000
  silence_threshold: 0.02
client:
  endpoint: "http://relay:8080/api/transcribe"
logging:
  level: debug
  format: json
  output: stderr
`,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 8080 {
					t.Errorf("Expected port 8080, got %d", c.HTTP.Port)
				}
				if len(c.CORS.AllowedOrigins) != 2 {
					t.Errorf("Expected 2 allowed origins, got %d", len(c.CORS.AllowedOrigins))
				}
				if c.Audio.FrameBytes != 4096 {
					t.Errorf("Expected 4096 frame bytes, got %d", c.Audio.FrameBytes)
				}
				if c.Recognizer.Provider != ProviderDeepgram {
					t.Errorf("Expected deepgram provider, got %s", c.Recognizer.Provider)
				}
				// Unset fields keep their defaults
				if c.Recognizer.Deepgram.BaseURL != "https://api.deepgram.com/v1" {
					t.Errorf("Expected default deepgram base url, got %s", c.Recognizer.Deepgram.BaseURL)
				}
				if c.Capture.FrameSize != 4096 {
					t.Errorf("Expected default frame size 4096, got %d", c.Capture.FrameSize)
				}
				if c.Capture.SilenceThreshold != 0.02 {
					t.Errorf("Expected silence threshold 0.02, got %f", c.Capture.SilenceThreshold)
				}
			},
		},
		{
			name:       "empty file uses defaults",
			configYAML: "",
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 3001 {
					t.Errorf("Expected default port 3001, got %d", c.HTTP.Port)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid values",
			configYAML: `
audio:
  sample_rate: 44100
`,
			expectError: true,
			errorMsg:    "sample_rate must be 16000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected error to wrap fs.ErrNotExist, got: %v", err)
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	clearEnv(t)

	config, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Failed to load example config: %v", err)
	}

	if !reflect.DeepEqual(*config, Default()) {
		t.Errorf("Expected example config to match defaults\ngot:  %+v\nwant: %+v", *config, Default())
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_PROFILE", "dictation")
	t.Setenv("DEEPGRAM_API_KEY", "dg-env")
	t.Setenv("RELAY_ENDPOINT", "http://example.test/api/transcribe")

	config := Default()
	ApplyEnv(&config)

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
	}
	if config.Recognizer.AWS.Region != "eu-west-1" {
		t.Errorf("Expected region eu-west-1, got %s", config.Recognizer.AWS.Region)
	}
	if config.Recognizer.AWS.Profile != "dictation" {
		t.Errorf("Expected profile dictation, got %s", config.Recognizer.AWS.Profile)
	}
	if config.Recognizer.Deepgram.APIKey != "dg-env" {
		t.Errorf("Expected deepgram key from env, got %s", config.Recognizer.Deepgram.APIKey)
	}
	if config.Client.Endpoint != "http://example.test/api/transcribe" {
		t.Errorf("Expected endpoint from env, got %s", config.Client.Endpoint)
	}
}

func TestApplyEnvIgnoresBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	config := Default()
	ApplyEnv(&config)

	if config.HTTP.Port != 3001 {
		t.Errorf("Expected port to stay 3001, got %d", config.HTTP.Port)
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("AWS_REGION")
	tempDir := t.TempDir()

	envPath := filepath.Join(tempDir, ".env")
	if err := os.WriteFile(envPath, []byte("AWS_REGION=ap-south-1\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	if err := LoadEnv(envPath, filepath.Join(tempDir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	if got := os.Getenv("AWS_REGION"); got != "ap-south-1" {
		t.Errorf("Expected AWS_REGION from env file, got %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	if config.Audio.GetFrameIntervalDuration() != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", config.Audio.GetFrameIntervalDuration())
	}

	if config.Capture.GetFlushIntervalDuration() != 3*time.Second {
		t.Errorf("Expected 3s, got %v", config.Capture.GetFlushIntervalDuration())
	}

	if config.Client.GetTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60s, got %v", config.Client.GetTimeoutDuration())
	}

	if config.HTTP.GetReadTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30s, got %v", config.HTTP.GetReadTimeoutDuration())
	}

	if config.HTTP.GetWriteTimeoutDuration() != 120*time.Second {
		t.Errorf("Expected 120s, got %v", config.HTTP.GetWriteTimeoutDuration())
	}
}
