// Package config loads vocalis configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// RealtimeConfig configures the realtime session connection.
type RealtimeConfig struct {
	// Endpoint is the HTTP(S) endpoint of the realtime service.
	// It is rewritten to ws(s) on connect.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates the realtime connection.
	APIKey string `yaml:"api_key"`

	// Voice is the assistant voice id.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt applied at session open.
	Instructions string `yaml:"instructions"`

	// TranscriptionModel transcribes user speech server-side.
	TranscriptionModel string `yaml:"transcription_model"`

	// TurnDetection selects the server VAD mode.
	TurnDetection string `yaml:"turn_detection"`
}

// TTSConfig configures the one-shot speech synthesis pipeline.
type TTSConfig struct {
	// Endpoint is the synthesis endpoint. Empty uses the provider default.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates synthesis requests.
	APIKey string `yaml:"api_key"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// MaxAttempts bounds the retry loop for transient failures.
	MaxAttempts int `yaml:"max_attempts"`
}

// AudioConfig configures microphone capture.
type AudioConfig struct {
	// SampleRate in Hz. The realtime service expects 24000.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per capture block.
	BlockSize int `yaml:"block_size"`

	// Backend selects the capture backend: "portaudio" or "mock".
	Backend string `yaml:"backend"`
}

// Config is the full application configuration.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	TTS      TTSConfig      `yaml:"tts"`
	Audio    AudioConfig    `yaml:"audio"`

	// Listen is the optional address of the observation HTTP server
	// (e.g. ":8090"). Empty disables it.
	Listen string `yaml:"listen"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Realtime: RealtimeConfig{
			Endpoint:           "https://api.openai.com/v1/realtime",
			Voice:              "alloy",
			TranscriptionModel: "whisper-1",
			TurnDetection:      "server_vad",
		},
		TTS: TTSConfig{
			Voice:       "Kore",
			MaxAttempts: 5,
		},
		Audio: AudioConfig{
			SampleRate: 24000,
			BlockSize:  4096,
			Backend:    "portaudio",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides configuration from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VOCALIS_REALTIME_ENDPOINT"); v != "" {
		c.Realtime.Endpoint = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Realtime.APIKey == "" {
		c.Realtime.APIKey = v
	}
	if v := os.Getenv("VOCALIS_REALTIME_API_KEY"); v != "" {
		c.Realtime.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.TTS.APIKey == "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("VOCALIS_TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("VOCALIS_TTS_ENDPOINT"); v != "" {
		c.TTS.Endpoint = v
	}
	if v := os.Getenv("VOCALIS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("VOCALIS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks for configuration errors that would block connect.
func (c *Config) Validate() error {
	if c.Realtime.Endpoint == "" {
		return errors.New("config: realtime endpoint is required")
	}
	if c.Realtime.APIKey == "" {
		return errors.New("config: realtime API key is required (set OPENAI_API_KEY)")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.BlockSize <= 0 {
		return fmt.Errorf("config: block_size must be positive, got %d", c.Audio.BlockSize)
	}
	return nil
}
