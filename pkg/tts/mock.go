package tts

import (
	"context"
	"sync"
)

// Mock is an in-memory Provider for testing.
type Mock struct {
	// Result is returned from Synthesize when Err is nil. A nil
	// Result yields a short silent buffer.
	Result *AudioResult

	// Err, when set, is returned from every Synthesize call.
	Err error

	// Delay gates Synthesize on a channel when non-nil, letting tests
	// control when the request completes.
	Gate chan struct{}

	mu       sync.Mutex
	requests []string
	closed   bool
}

// NewMock creates a mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Synthesize records the request and returns the configured result.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, text)
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	pcm := make([]byte, 480) // 10ms of silence at 24kHz
	return &AudioResult{
		PCM:        pcm,
		SampleRate: 24000,
		Duration:   pcmDuration(len(pcm), 24000),
		CharCount:  len(text),
	}, nil
}

// Close marks the provider closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Requests returns the synthesized texts in call order.
func (m *Mock) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

var _ Provider = (*Mock)(nil)
