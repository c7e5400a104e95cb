package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// portAudioSource captures microphone audio through PortAudio using
// blocking reads on a fixed-size buffer.
type portAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []float32
	started bool
	closed  bool
}

// newPortAudioSource opens the default input device.
func newPortAudioSource(cfg Config, logger *slog.Logger) (*portAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	buffer := make([]float32, cfg.BlockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.BlockSize, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	return &portAudioSource{
		cfg:    cfg,
		logger: logger,
		stream: stream,
		buffer: buffer,
	}, nil
}

func (s *portAudioSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *portAudioSource) Read() ([]float32, error) {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return nil, io.EOF
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Read(); err != nil {
		// Stop/Close aborts the blocking read; report EOF so the
		// pump exits quietly.
		s.mu.Lock()
		stopped := s.closed || !s.started
		s.mu.Unlock()
		if stopped {
			return nil, io.EOF
		}
		return nil, err
	}

	out := make([]float32, len(s.buffer))
	copy(out, s.buffer)
	return out, nil
}

func (s *portAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.started {
		return nil
	}
	s.started = false
	return s.stream.Abort()
}

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false

	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

func (s *portAudioSource) Name() string { return "portaudio" }

var _ Source = (*portAudioSource)(nil)

// playChunk is the output buffer size in samples; small enough that a
// preemption takes effect quickly.
const playChunk = 2048

// PortAudioSink plays PCM16 buffers on the default output device.
type PortAudioSink struct {
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewPortAudioSink creates a playback sink on the default output device.
func NewPortAudioSink(logger *slog.Logger) (*PortAudioSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audioio: playback device: %w", err)
	}
	return &PortAudioSink{logger: logger}, nil
}

// Play writes the PCM16 buffer to the output device, preempting any
// playback already in progress. It blocks until done or canceled.
func (p *PortAudioSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	// Synthesized speech usually arrives at 24 kHz; output devices tend
	// to prefer 44.1 or 48. Resample to the device rate rather than
	// forcing the device to switch.
	if dev, devErr := portaudio.DefaultOutputDevice(); devErr == nil {
		if rate := int(dev.DefaultSampleRate); rate > 0 && rate != sampleRate {
			pcm = audio.Int16ToBytes(audio.Resample(audio.BytesToInt16(pcm), sampleRate, rate))
			sampleRate = rate
		}
	}

	buffer := make([]int16, playChunk)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), playChunk, buffer)
	if err != nil {
		return fmt.Errorf("audioio: open playback stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("audioio: start playback: %w", err)
	}
	defer stream.Stop()

	samples := len(pcm) / 2
	for off := 0; off < samples; off += playChunk {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := 0
		for ; n < playChunk && off+n < samples; n++ {
			i := (off + n) * 2
			buffer[n] = int16(pcm[i]) | int16(pcm[i+1])<<8
		}
		// Zero-pad the final partial chunk.
		for i := n; i < playChunk; i++ {
			buffer[i] = 0
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("audioio: playback write: %w", err)
		}
	}
	return nil
}

// Stop interrupts the current playback, if any.
func (p *PortAudioSink) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

// Close releases the output device.
func (p *PortAudioSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return portaudio.Terminate()
}

// Name returns "portaudio".
func (p *PortAudioSink) Name() string { return "portaudio" }

var _ Sink = (*PortAudioSink)(nil)
