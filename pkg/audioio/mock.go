package audioio

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

// MockSource is a capture source for testing. It generates synthetic
// audio (silence or a sine wave) paced in near real time, or serves
// blocks pushed explicitly with Push.
type MockSource struct {
	cfg Config

	// Interval paces generated blocks. Zero means real-time pacing
	// derived from the block size.
	Interval time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	pushed  chan []float32
	stopCh  chan struct{}

	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave instead of
// silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a new mock capture source.
func NewMockSource(cfg Config, opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		cfg:    cfg,
		pushed: make(chan []float32, 16),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Push queues a specific block to be returned by the next Read.
// Blocks queued while stopped are still served once started again,
// which tests use to verify drop behavior.
func (m *MockSource) Push(samples []float32) {
	m.pushed <- samples
}

func (m *MockSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	m.started = true
	m.stopCh = make(chan struct{})
	return nil
}

func (m *MockSource) Read() ([]float32, error) {
	m.mu.Lock()
	if m.closed || !m.started {
		m.mu.Unlock()
		return nil, io.EOF
	}
	stop := m.stopCh
	m.mu.Unlock()

	interval := m.Interval
	if interval <= 0 {
		interval = m.cfg.BlockDuration()
	}

	select {
	case samples := <-m.pushed:
		return samples, nil
	case <-stop:
		return nil, io.EOF
	case <-time.After(interval):
		return m.generate(), nil
	}
}

func (m *MockSource) generate() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := make([]float32, m.cfg.BlockSize)
	if m.frequency > 0 {
		for i := range samples {
			samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			m.phase++
		}
	}
	return samples
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if m.started {
		m.started = false
		close(m.stopCh)
	}
	m.closed = true
	return nil
}

func (m *MockSource) Name() string { return "mock" }

var _ Source = (*MockSource)(nil)

// MockSink records playback requests for test verification.
type MockSink struct {
	// PlayDelay makes Play block, simulating audible playback.
	PlayDelay time.Duration

	mu      sync.Mutex
	plays   []MockPlayback
	stopped int
	cancel  context.CancelFunc
	closed  bool
}

// MockPlayback records one Play invocation.
type MockPlayback struct {
	PCM        []byte
	SampleRate int
}

// NewMockSink creates a recording playback sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.plays = append(m.plays, MockPlayback{PCM: pcm, SampleRate: sampleRate})
	delay := m.PlayDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

func (m *MockSink) Name() string { return "mock" }

// Plays returns a copy of the recorded playback requests.
func (m *MockSink) Plays() []MockPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPlayback, len(m.plays))
	copy(out, m.plays)
	return out
}

// Stops returns the number of Stop calls.
func (m *MockSink) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

var _ Sink = (*MockSink)(nil)
