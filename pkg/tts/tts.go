// Package tts provides one-shot text-to-speech synthesis and the
// playback pipeline that turns assistant transcript items into audible
// speech.
//
// Providers implement the Provider interface. Synthesis results are
// raw PCM16 plus a sample rate; the Speaker wraps them in a WAV
// container and drives a single shared playback sink.
package tts

import (
	"context"
	"time"
)

// Provider converts text to speech.
type Provider interface {
	// Synthesize converts text to audio, returning the complete
	// audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	// PCM is raw little-endian PCM16 mono audio.
	PCM []byte

	// SampleRate in Hz, as declared by the service.
	SampleRate int

	// Duration is the playback duration derived from the PCM length.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int
}

// pcmDuration computes playback time for PCM16 mono data.
func pcmDuration(dataBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := dataBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
