// Package realtime implements the client side of a realtime voice
// conversation protocol over a persistent WebSocket: streaming
// microphone audio up, receiving transcription and response events
// down.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// ConnectionState is the socket lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SessionConfig is the session setup sent in the session.update
// message when the connection opens.
type SessionConfig struct {
	Instructions       string
	Voice              string
	Modalities         []string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	TurnDetection      string
}

// DefaultSessionConfig returns a config suitable for bidirectional
// voice-and-text conversation.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Voice:              "alloy",
		Modalities:         []string{"text", "audio"},
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		TurnDetection:      "server_vad",
	}
}

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 120 * time.Second
	pingInterval     = 30 * time.Second
)

// Client manages the WebSocket connection to the realtime service.
//
// Inbound events are dispatched to the callback fields, which must be
// set before Connect. All callbacks run on the single read goroutine,
// so handlers see events in wire order.
type Client struct {
	endpoint string
	apiKey   string
	logger   *slog.Logger

	mu     sync.Mutex
	state  ConnectionState
	cfg    SessionConfig
	closed bool

	ws   *websocket.Conn
	wsMu sync.Mutex

	// Callbacks, dispatched by event type.
	OnSpeechStarted          func()
	OnSpeechStopped          func()
	OnTranscriptionDelta     func(itemID, delta string)
	OnTranscriptionCompleted func(itemID, transcript string)
	OnResponseDelta          func(itemID, delta string)
	OnResponseDone           func()
	OnServerError            func(err error)
	OnDisconnect             func(err error)
}

// NewClient creates a realtime client for the given endpoint. The
// endpoint may use an http(s) scheme; it is rewritten to the
// WebSocket equivalent on connect.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// socketURL rewrites the configured endpoint to its WebSocket
// equivalent and decides how the credential travels: hosts that
// expect a query-string key get ?api-key=, everything else gets a
// Bearer header.
func (c *Client) socketURL() (string, map[string][]string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("realtime: invalid endpoint %q: %w", c.endpoint, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", nil, fmt.Errorf("realtime: unsupported endpoint scheme %q", u.Scheme)
	}

	header := make(map[string][]string)
	if strings.HasSuffix(u.Host, "openai.azure.com") {
		q := u.Query()
		q.Set("api-key", c.apiKey)
		u.RawQuery = q.Encode()
	} else {
		header["Authorization"] = []string{"Bearer " + c.apiKey}
		header["OpenAI-Beta"] = []string{"realtime=v1"}
	}

	return u.String(), header, nil
}

// Connect dials the service and sends the session configuration.
// It fails fast when the endpoint or credential is missing, before
// any network activity.
func (c *Client) Connect(cfg SessionConfig) error {
	if c.endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.cfg = cfg
	c.closed = false
	c.mu.Unlock()

	target, header, err := c.socketURL()
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(target, header)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("realtime: connect: %w", err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})
	ws.SetReadDeadline(time.Now().Add(readTimeout))

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	// The session config goes out immediately on open.
	if err := c.sendSessionUpdate(cfg); err != nil {
		c.Disconnect()
		return fmt.Errorf("realtime: configure session: %w", err)
	}

	c.logger.Info("realtime session connected", "endpoint", c.endpoint)

	go c.readLoop(ws)
	go c.keepAlive(ws)

	return nil
}

func (c *Client) sendSessionUpdate(cfg SessionConfig) error {
	msg := sessionUpdateMsg{
		Type: typeSessionUpdate,
		Session: sessionPayload{
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			Modalities:        cfg.Modalities,
			InputAudioFormat:  cfg.InputAudioFormat,
			OutputAudioFormat: cfg.OutputAudioFormat,
		},
	}
	if cfg.TranscriptionModel != "" {
		msg.Session.InputAudioTranscription = &transcriptionConfig{Model: cfg.TranscriptionModel}
	}
	if cfg.TurnDetection != "" {
		msg.Session.TurnDetection = &turnDetectionConfig{Type: cfg.TurnDetection}
	}
	return c.sendJSON(msg)
}

// SendAudio encodes one capture block and streams it to the service.
// A no-op when not connected, so a capture pipeline that outlives the
// socket cannot error the session down.
func (c *Client) SendAudio(samples []float32) error {
	if c.State() != StateConnected {
		return nil
	}
	pcm := audio.EncodePCM16(samples)
	return c.sendJSON(audioAppendMsg{
		Type:  typeAudioAppend,
		Audio: audio.ToTransportText(pcm),
	})
}

// SendText sends a user-typed message. The service does not echo user
// text back, so the caller appends the local transcript item itself.
func (c *Client) SendText(text string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	return c.sendJSON(itemCreateMsg{
		Type: typeItemCreate,
		Item: itemPayload{
			Type:    "text",
			Content: []itemContent{{Type: "text", Value: text}},
		},
	})
}

// UpdateInstructions pushes a new system prompt to the live session.
// When disconnected it does nothing; the caller's config carries the
// new instructions into the next Connect.
func (c *Client) UpdateInstructions(instructions string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.cfg.Instructions = instructions
	c.mu.Unlock()

	return c.sendJSON(sessionUpdateMsg{
		Type:    typeSessionUpdate,
		Session: sessionPayload{Instructions: instructions},
	})
}

// Disconnect tears the connection down from any state. Safe to call
// repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		ws.Close()
	}
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// keepAlive pings until the connection goes away.
func (c *Client) keepAlive(ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		live := !c.closed && c.ws == ws
		c.mu.Unlock()
		if !live {
			return
		}

		c.wsMu.Lock()
		err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

// readLoop reads and dispatches events until the socket closes, then
// reports the disconnect.
func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		c.dispatch(data)
	}
}

// handleClose maps the socket error to a caller-facing disconnect
// reason and resets the state machine. An abnormal close usually means
// the server rejected the handshake late, so it gets a credentials
// hint rather than a bare close code.
func (c *Client) handleClose(ws *websocket.Conn, err error) {
	c.mu.Lock()
	stale := c.ws != ws
	wasClosed := c.closed || stale
	if !stale {
		c.ws = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	ws.Close()

	if stale {
		// A newer connection took over; nothing to report.
		return
	}
	if wasClosed {
		// Deliberate disconnect; not an error.
		if c.OnDisconnect != nil {
			c.OnDisconnect(nil)
		}
		return
	}

	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		err = fmt.Errorf("realtime: connection closed abnormally, check API key and endpoint: %w", err)
	} else {
		err = fmt.Errorf("realtime: connection lost: %w", err)
	}
	c.logger.Warn("realtime session closed", "error", err)

	if c.OnDisconnect != nil {
		c.OnDisconnect(err)
	}
}

// dispatch routes one inbound event by its type tag.
func (c *Client) dispatch(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("discarding unparseable event", "error", err)
		return
	}

	switch ev.Type {
	case typeSpeechStarted:
		if c.OnSpeechStarted != nil {
			c.OnSpeechStarted()
		}
	case typeSpeechStopped:
		if c.OnSpeechStopped != nil {
			c.OnSpeechStopped()
		}
	case typeTranscriptionDelta:
		if c.OnTranscriptionDelta != nil {
			c.OnTranscriptionDelta(ev.ItemID, ev.Delta)
		}
	case typeTranscriptionCompleted:
		if c.OnTranscriptionCompleted != nil {
			c.OnTranscriptionCompleted(ev.ItemID, ev.Transcript)
		}
	case typeResponseTextDelta, typeResponseAudioTranscriptDelta:
		if c.OnResponseDelta != nil {
			c.OnResponseDelta(ev.ItemID, ev.Delta)
		}
	case typeResponseDone:
		if c.OnResponseDone != nil {
			c.OnResponseDone()
		}
	case typeError:
		perr := &ProtocolError{}
		if ev.Error != nil {
			perr.Code = ev.Error.Code
			perr.Message = ev.Error.Message
		}
		c.logger.Warn("server error event", "code", perr.Code, "message", perr.Message)
		if c.OnServerError != nil {
			c.OnServerError(perr)
		}
	default:
		c.logger.Debug("ignoring event", "type", ev.Type)
	}
}

// sendJSON serializes writes; gorilla connections allow one concurrent
// writer.
func (c *Client) sendJSON(v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteJSON(v)
}
