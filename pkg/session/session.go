// Package session orchestrates a live conversation: it owns the
// capture engine, the realtime client, the transcript, and the
// text-to-speech speaker, and funnels every mutation through a single
// event loop so transcript ordering matches arrival order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis/pkg/audioio"
	"github.com/vocalis-ai/vocalis/pkg/realtime"
	"github.com/vocalis-ai/vocalis/pkg/transcript"
	"github.com/vocalis-ai/vocalis/pkg/tts"
)

// Activity is the conversational sub-state while connected.
type Activity int

const (
	ActivityIdle Activity = iota
	// ActivityListening means the service detected user speech.
	ActivityListening
	// ActivityProcessing means speech ended and a response is pending.
	ActivityProcessing
)

func (a Activity) String() string {
	switch a {
	case ActivityIdle:
		return "idle"
	case ActivityListening:
		return "listening"
	case ActivityProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Status is the small typed record emitted on every relevant
// transition, consumed by presentation layers instead of shared
// mutable state.
type Status struct {
	State    realtime.ConnectionState `json:"state"`
	Activity Activity                 `json:"activity"`
	Level    float64                  `json:"level"`
	Err      string                   `json:"error,omitempty"`
}

type eventKind int

const (
	evSpeechStarted eventKind = iota
	evSpeechStopped
	evTranscriptionDelta
	evTranscriptionCompleted
	evResponseDelta
	evResponseDone
	evServerError
	evDisconnect
	evSendText
	evPlaybackEnd
)

type event struct {
	kind   eventKind
	itemID string
	text   string
	err    error
}

// eventBuffer bounds the funnel. Events block the producer rather
// than drop, preserving per-item ordering.
const eventBuffer = 256

// Session is a single conversation. All state transitions run on one
// internal goroutine.
type Session struct {
	client  *realtime.Client
	engine  *audioio.Engine
	speaker *tts.Speaker
	log     *transcript.Log
	logger  *slog.Logger

	cfg realtime.SessionConfig

	mu      sync.Mutex
	status  Status
	events  chan event
	done    chan struct{}
	running bool

	// OnStatus observes status transitions. Called from the event
	// loop; must not block.
	OnStatus func(Status)

	// OnTranscript observes transcript changes with a fresh snapshot.
	OnTranscript func([]transcript.Item)
}

// New creates a session from its components. The realtime client's
// callbacks are claimed by the session; do not set them elsewhere.
func New(client *realtime.Client, engine *audioio.Engine, speaker *tts.Speaker, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		client:  client,
		engine:  engine,
		speaker: speaker,
		log:     transcript.NewLog(),
		logger:  logger,
	}

	client.OnSpeechStarted = func() { s.push(event{kind: evSpeechStarted}) }
	client.OnSpeechStopped = func() { s.push(event{kind: evSpeechStopped}) }
	client.OnTranscriptionDelta = func(id, delta string) {
		s.push(event{kind: evTranscriptionDelta, itemID: id, text: delta})
	}
	client.OnTranscriptionCompleted = func(id, text string) {
		s.push(event{kind: evTranscriptionCompleted, itemID: id, text: text})
	}
	client.OnResponseDelta = func(id, delta string) {
		s.push(event{kind: evResponseDelta, itemID: id, text: delta})
	}
	client.OnResponseDone = func() { s.push(event{kind: evResponseDone}) }
	client.OnServerError = func(err error) { s.push(event{kind: evServerError, err: err}) }
	client.OnDisconnect = func(err error) { s.push(event{kind: evDisconnect, err: err}) }

	if speaker != nil {
		speaker.OnPlaybackEnd = func(id string, err error) {
			s.push(event{kind: evPlaybackEnd, itemID: id, err: err})
		}
	}

	return s
}

// push delivers an event into the funnel, discarding it when no loop
// is running (events arriving after disconnect are meaningless).
func (s *Session) push(ev event) {
	s.mu.Lock()
	events, done, running := s.events, s.done, s.running
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case events <- ev:
	case <-done:
	}
}

// Connect opens the capture pipeline, then the socket, then starts
// streaming. A capture failure aborts before any network activity; a
// socket failure releases the capture device again, so no resource is
// left half-open.
func (s *Session) Connect(cfg realtime.SessionConfig) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session: already connected")
	}
	s.cfg = cfg
	// The funnel must exist before the socket opens so no early
	// server event is lost.
	s.events = make(chan event, eventBuffer)
	s.done = make(chan struct{})
	s.running = true
	events, done := s.events, s.done
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
		s.setStatus(func(st *Status) {
			st.State = realtime.StateDisconnected
			st.Err = err.Error()
		})
		return err
	}

	if err := s.engine.Init(); err != nil {
		return fail(fmt.Errorf("session: open capture: %w", err))
	}

	s.setStatus(func(st *Status) {
		st.State = realtime.StateConnecting
		st.Err = ""
	})

	if err := s.client.Connect(cfg); err != nil {
		s.engine.Teardown()
		return fail(err)
	}

	if err := s.engine.Start(); err != nil {
		s.client.Disconnect()
		s.engine.Teardown()
		return fail(fmt.Errorf("session: start capture: %w", err))
	}

	s.setStatus(func(st *Status) {
		st.State = realtime.StateConnected
		st.Activity = ActivityIdle
	})

	go s.loop(events, done)
	return nil
}

// Disconnect is the single cancellation point: it stops capture,
// closes the socket, stops playback, and clears the transcript. Safe
// to call from any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.done)
	}
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Stop()
	}
	s.client.Disconnect()
	s.engine.Teardown()
	s.log.Reset()

	s.setStatus(func(st *Status) {
		st.State = realtime.StateDisconnected
		st.Activity = ActivityIdle
		st.Level = 0
	})
	s.notifyTranscript()
}

// SendText sends user-typed text. The service does not echo it back,
// so the item is appended locally with a generated id.
func (s *Session) SendText(text string) error {
	if text == "" {
		return nil
	}
	if s.client.State() != realtime.StateConnected {
		return realtime.ErrNotConnected
	}
	s.push(event{kind: evSendText, itemID: uuid.NewString(), text: text})
	return nil
}

// Speak toggles read-aloud for a transcript item.
func (s *Session) Speak(ctx context.Context, itemID string) error {
	if s.speaker == nil {
		return fmt.Errorf("session: no speech synthesis configured")
	}
	item, ok := s.log.Get(itemID)
	if !ok {
		return fmt.Errorf("session: unknown transcript item %q", itemID)
	}
	s.speaker.Speak(ctx, item.ID, item.Content)
	return nil
}

// UpdateInstructions pushes a new system prompt to the live session,
// or stores it for the next connect when disconnected.
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	s.cfg.Instructions = instructions
	s.mu.Unlock()
	return s.client.UpdateInstructions(instructions)
}

// Status returns the last emitted status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns a snapshot of the conversation.
func (s *Session) Transcript() []transcript.Item {
	return s.log.Items()
}

// loop is the single writer for transcript and status state.
func (s *Session) loop(events chan event, done chan struct{}) {
	frames := s.engine.Frames()
	for {
		select {
		case <-done:
			return
		case frame := <-frames:
			// Cheap path: encode and forward, update loudness.
			if err := s.client.SendAudio(frame.Samples); err != nil {
				s.logger.Debug("audio send failed", "error", err)
			}
			s.setStatus(func(st *Status) { st.Level = frame.Level })
		case ev := <-events:
			if s.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event. Returns true when the loop must exit.
func (s *Session) handle(ev event) bool {
	switch ev.kind {
	case evSpeechStarted:
		s.setStatus(func(st *Status) { st.Activity = ActivityListening })

	case evSpeechStopped:
		s.setStatus(func(st *Status) { st.Activity = ActivityProcessing })

	case evTranscriptionDelta:
		s.log.ApplyDelta(ev.itemID, transcript.RoleUser, ev.text)
		s.notifyTranscript()

	case evTranscriptionCompleted:
		s.log.ApplyFinal(ev.itemID, transcript.RoleUser, ev.text)
		s.notifyTranscript()

	case evResponseDelta:
		s.log.ApplyDelta(ev.itemID, transcript.RoleAssistant, ev.text)
		s.notifyTranscript()

	case evResponseDone:
		// No per-item completion event exists for response text; the
		// turn boundary finalizes whatever is still streaming.
		for _, item := range s.log.Items() {
			if item.Partial {
				s.log.ApplyFinal(item.ID, item.Role, item.Content)
			}
		}
		s.setStatus(func(st *Status) { st.Activity = ActivityIdle })
		s.notifyTranscript()

	case evSendText:
		s.log.AppendLocal(ev.itemID, transcript.RoleUser, ev.text)
		s.notifyTranscript()
		if err := s.client.SendText(ev.text); err != nil {
			s.logger.Warn("text send failed", "error", err)
			s.setStatus(func(st *Status) { st.Err = err.Error() })
		}

	case evServerError:
		s.logger.Warn("server error", "error", ev.err)
		s.setStatus(func(st *Status) { st.Err = ev.err.Error() })

	case evPlaybackEnd:
		if ev.err != nil {
			s.setStatus(func(st *Status) { st.Err = ev.err.Error() })
		}

	case evDisconnect:
		if ev.err != nil {
			s.setStatus(func(st *Status) { st.Err = ev.err.Error() })
		}
		// Tear everything down off the loop goroutine; Disconnect
		// closes done, which also stops this loop.
		go s.Disconnect()
		return true
	}
	return false
}

// setStatus mutates the status record and notifies the observer.
func (s *Session) setStatus(mutate func(*Status)) {
	s.mu.Lock()
	mutate(&s.status)
	status := s.status
	cb := s.OnStatus
	s.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

func (s *Session) notifyTranscript() {
	s.mu.Lock()
	cb := s.OnTranscript
	s.mu.Unlock()
	if cb != nil {
		cb(s.log.Items())
	}
}
