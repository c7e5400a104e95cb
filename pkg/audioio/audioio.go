// Package audioio owns the microphone and speaker devices.
//
// The capture side is built around Engine, a small state machine
// (idle -> ready -> capturing) that emits fixed-size blocks of normalized
// samples with a running loudness estimate. The playback side is a Sink
// that plays one PCM16 buffer at a time, preempting whatever came before.
//
// Two backends are provided: PortAudio for real devices and a mock for
// CI/testing without hardware.
package audioio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Errors reported by the capture engine.
var (
	// ErrPermission means the microphone was denied or unavailable.
	ErrPermission = errors.New("audioio: microphone access denied or device unavailable")

	// ErrClosed is returned when using a torn-down engine resource.
	ErrClosed = errors.New("audioio: device closed")
)

// Config holds capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture sample rate in Hz.
	// Default: 24000 (what the realtime service expects).
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// BlockSize is the number of samples per capture block.
	// Default: 4096 (mono).
	BlockSize int `yaml:"block_size" json:"block_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: 24000,
		BlockSize:  4096,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audioio: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("audioio: block_size must be positive, got %d", c.BlockSize)
	}
	return nil
}

// BlockDuration returns the wall-clock duration of one capture block.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(float64(c.BlockSize) / float64(c.SampleRate) * float64(time.Second))
}

// Frame is one captured block of normalized samples in [-1,1] plus the
// display loudness computed over the block.
type Frame struct {
	Samples []float32
	Level   float64
}

// Source captures fixed-size blocks from an input device.
// Implementations are not safe for concurrent Read; the engine is the
// only reader.
type Source interface {
	// Start begins capture.
	Start() error

	// Read blocks until the next block of samples is available.
	// Returns io.EOF after Stop or Close.
	Read() ([]float32, error)

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Close releases the device.
	Close() error

	// Name returns the backend name.
	Name() string
}

// Sink plays PCM16 audio to an output device. At most one buffer plays
// at a time; a new Play preempts the previous one.
type Sink interface {
	// Play blocks until the buffer has been played, the context is
	// canceled, or a later Play/Stop preempts it.
	Play(ctx context.Context, pcm []byte, sampleRate int) error

	// Stop interrupts the current playback, if any.
	Stop() error

	// Close releases the device.
	Close() error

	// Name returns the backend name.
	Name() string
}
