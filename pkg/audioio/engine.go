package audioio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// State is the capture engine lifecycle state.
type State int

const (
	// StateIdle means no device is held.
	StateIdle State = iota
	// StateReady means the device is open but no frames are emitted.
	StateReady
	// StateCapturing means frames are being emitted.
	StateCapturing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// frameBuffer bounds the handoff between the capture goroutine and the
// consumer. Frames are dropped, never queued indefinitely, so the capture
// path can never block on a slow consumer.
const frameBuffer = 8

// SourceFactory opens a capture source for the given configuration.
type SourceFactory func(Config, *slog.Logger) (Source, error)

// Engine owns the microphone and emits capture frames.
//
// Lifecycle: Init opens the device (idle -> ready), Start begins frame
// emission (ready -> capturing), Stop pauses it (capturing -> ready), and
// Teardown releases the device from any state. Teardown is idempotent and
// always safe to call.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	factory SourceFactory

	mu    sync.Mutex
	state State
	src   Source
	level float64

	frames  chan Frame
	dropped atomic.Int64
}

// NewEngine creates a capture engine. The backend is chosen from cfg;
// tests can inject a factory via NewEngineWithFactory.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return NewEngineWithFactory(cfg, logger, openSource)
}

// NewEngineWithFactory creates a capture engine with a custom source
// factory.
func NewEngineWithFactory(cfg Config, logger *slog.Logger, factory SourceFactory) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		factory: factory,
		frames:  make(chan Frame, frameBuffer),
	}
}

// openSource selects the real backend for the configuration.
func openSource(cfg Config, logger *slog.Logger) (Source, error) {
	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = BackendPortAudio
	}
	switch backend {
	case BackendPortAudio:
		return newPortAudioSource(cfg, logger)
	case BackendMock:
		return NewMockSource(cfg), nil
	default:
		return nil, fmt.Errorf("audioio: unsupported backend: %s", backend)
	}
}

// Init opens the microphone and prepares the capture chain.
// Returns an error wrapping ErrPermission when the device is denied or
// unavailable. Calling Init again while ready or capturing is a no-op.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		// Already holding the device; nothing to resume with this backend.
		return nil
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	src, err := e.factory(e.cfg, e.logger)
	if err != nil {
		if !errors.Is(err, ErrPermission) {
			err = fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return err
	}

	e.src = src
	e.state = StateReady

	e.logger.Info("audio capture ready",
		"backend", src.Name(),
		"sample_rate", e.cfg.SampleRate,
		"block_size", e.cfg.BlockSize,
	)
	return nil
}

// Start begins frame emission. Valid only from ready; otherwise it logs a
// warning and does nothing.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady {
		e.logger.Warn("capture start ignored", "state", e.state.String())
		return nil
	}

	if err := e.src.Start(); err != nil {
		return fmt.Errorf("audioio: start capture: %w", err)
	}

	e.state = StateCapturing
	e.level = 0

	e.drainFrames()
	go e.pump(e.src)
	return nil
}

// drainFrames discards frames still queued from an earlier capture run.
// Stale audio must never leak into a fresh session.
func (e *Engine) drainFrames() {
	for {
		select {
		case <-e.frames:
		default:
			return
		}
	}
}

// pump reads blocks from the source until it stops, computing loudness
// and handing frames to the consumer. Frames are dropped when the
// consumer is not keeping up.
func (e *Engine) pump(src Source) {
	for {
		samples, err := src.Read()
		if err != nil {
			return
		}

		level := audio.RMSLevel(samples)
		e.mu.Lock()
		capturing := e.state == StateCapturing && e.src == src
		if capturing {
			e.level = level
		}
		e.mu.Unlock()
		if !capturing {
			return
		}

		select {
		case e.frames <- Frame{Samples: samples, Level: level}:
		default:
			e.dropped.Add(1)
		}
	}
}

// Stop halts frame emission and resets loudness. Valid from capturing;
// otherwise a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCapturing {
		return nil
	}

	err := e.src.Stop()
	e.state = StateReady
	e.level = 0
	return err
}

// Teardown releases the microphone unconditionally, from any state.
// It is idempotent and always safe to call.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src != nil {
		e.src.Stop()
		if err := e.src.Close(); err != nil {
			e.logger.Warn("closing capture device", "err", err)
		}
		e.src = nil
	}
	e.state = StateIdle
	e.level = 0
	e.drainFrames()
}

// Frames returns the capture frame channel. The channel stays open for
// the life of the engine; no frames arrive unless capturing.
func (e *Engine) Frames() <-chan Frame {
	return e.frames
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Level returns the latest display loudness in [0,1].
func (e *Engine) Level() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Dropped returns the number of frames dropped because the consumer was
// not keeping up.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}
