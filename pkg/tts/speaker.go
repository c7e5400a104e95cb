package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/audioio"
)

// Speaker reads transcript items aloud. It owns the single playback
// resource: starting a new item preempts whatever is playing, and
// requesting the item that is already active cancels it instead, so a
// read-aloud control behaves as a toggle.
type Speaker struct {
	provider Provider
	sink     audioio.Sink
	logger   *slog.Logger

	mu         sync.Mutex
	activeID   string
	generation uint64

	// OnPlaybackStart fires after synthesis succeeds, with the audio
	// wrapped in a WAV container for subscribers that play it
	// elsewhere.
	OnPlaybackStart func(itemID string, wav []byte)

	// OnPlaybackEnd fires when playback finishes or fails. err is nil
	// on normal completion and on cancellation.
	OnPlaybackEnd func(itemID string, err error)
}

// NewSpeaker creates a Speaker driving the given sink.
func NewSpeaker(provider Provider, sink audioio.Sink, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		provider: provider,
		sink:     sink,
		logger:   logger,
	}
}

// ActiveID returns the id of the item currently being spoken, or "".
func (s *Speaker) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Speak starts reading an item aloud, preempting any current
// playback. Calling Speak with the id that is already active cancels
// it instead. Synthesis and playback run in the background; the
// outcome is reported through OnPlaybackEnd.
func (s *Speaker) Speak(ctx context.Context, itemID, text string) {
	s.mu.Lock()
	if itemID != "" && s.activeID == itemID {
		// Toggle off.
		s.activeID = ""
		s.generation++
		s.mu.Unlock()
		s.sink.Stop()
		s.logger.Debug("playback toggled off", "item_id", itemID)
		return
	}

	s.activeID = itemID
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	// Preempt whatever was playing before the new audio is ready.
	s.sink.Stop()

	go s.run(ctx, gen, itemID, text)
}

// Stop cancels any active playback and clears the active id.
func (s *Speaker) Stop() {
	s.mu.Lock()
	s.activeID = ""
	s.generation++
	s.mu.Unlock()
	s.sink.Stop()
}

func (s *Speaker) run(ctx context.Context, gen uint64, itemID, text string) {
	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn("synthesis failed", "item_id", itemID, "error", err)
		s.finish(gen, itemID, err)
		return
	}

	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()
	if stale {
		// Preempted or cancelled while the request was in flight.
		return
	}

	if s.OnPlaybackStart != nil {
		s.OnPlaybackStart(itemID, audio.WAVFromBytes(result.PCM, result.SampleRate))
	}

	err = s.sink.Play(ctx, result.PCM, result.SampleRate)
	if errors.Is(err, context.Canceled) {
		// Preemption is not a failure.
		err = nil
	}
	s.finish(gen, itemID, err)
}

// finish clears the active id if this playback is still the current
// one, then reports the outcome.
func (s *Speaker) finish(gen uint64, itemID string, err error) {
	s.mu.Lock()
	if s.generation == gen && s.activeID == itemID {
		s.activeID = ""
	}
	s.mu.Unlock()

	if s.OnPlaybackEnd != nil {
		s.OnPlaybackEnd(itemID, err)
	}
}
