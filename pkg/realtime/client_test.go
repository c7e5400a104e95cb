package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer upgrades incoming connections and hands them to fn.
type testServer struct {
	*httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestServer(t *testing.T, fn func(ws *websocket.Conn)) *testServer {
	t.Helper()
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.mu.Unlock()
		fn(ws)
	}))
	t.Cleanup(s.Close)
	return s
}

// readMsg reads one JSON message from the server side.
func readMsg(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("server received invalid JSON: %v", err)
	}
	return msg
}

func TestConnectFailsFastOnMissingConfig(t *testing.T) {
	t.Run("missing endpoint", func(t *testing.T) {
		c := NewClient("", "key", nil)
		if err := c.Connect(DefaultSessionConfig()); !errors.Is(err, ErrMissingEndpoint) {
			t.Fatalf("expected ErrMissingEndpoint, got %v", err)
		}
		if c.State() != StateDisconnected {
			t.Errorf("state should stay disconnected, got %s", c.State())
		}
	})

	t.Run("missing key", func(t *testing.T) {
		c := NewClient("wss://example.com/v1/realtime", "", nil)
		if err := c.Connect(DefaultSessionConfig()); !errors.Is(err, ErrMissingAPIKey) {
			t.Fatalf("expected ErrMissingAPIKey, got %v", err)
		}
	})
}

func TestSocketURLRewrite(t *testing.T) {
	tests := []struct {
		name       string
		endpoint   string
		wantURL    string
		wantBearer bool
	}{
		{
			name:       "https becomes wss with bearer header",
			endpoint:   "https://api.openai.com/v1/realtime",
			wantURL:    "wss://api.openai.com/v1/realtime",
			wantBearer: true,
		},
		{
			name:       "http becomes ws with bearer header",
			endpoint:   "http://localhost:8080/realtime",
			wantURL:    "ws://localhost:8080/realtime",
			wantBearer: true,
		},
		{
			name:     "azure host gets query key",
			endpoint: "https://myres.openai.azure.com/openai/realtime",
			wantURL:  "wss://myres.openai.azure.com/openai/realtime?api-key=sk-test",
		},
		{
			name:       "ws passes through with bearer header",
			endpoint:   "ws://127.0.0.1/rt",
			wantURL:    "ws://127.0.0.1/rt",
			wantBearer: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.endpoint, "sk-test", nil)
			got, header, err := c.socketURL()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.wantURL {
				t.Errorf("url = %q, want %q", got, tt.wantURL)
			}
			_, hasBearer := header["Authorization"]
			if hasBearer != tt.wantBearer {
				t.Errorf("bearer header present = %v, want %v", hasBearer, tt.wantBearer)
			}
			if !tt.wantBearer && strings.Contains(tt.wantURL, "api-key") && hasBearer {
				t.Error("query-key endpoints should not also send a bearer header")
			}
		})
	}

	t.Run("rejects unknown scheme", func(t *testing.T) {
		c := NewClient("ftp://example.com", "sk-test", nil)
		if _, _, err := c.socketURL(); err == nil {
			t.Fatal("expected error for ftp scheme")
		}
	})
}

func TestConnectSendsSessionUpdate(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := newTestServer(t, func(ws *websocket.Conn) {
		got <- readMsg(t, ws)
		select {} // hold the connection open
	})

	cfg := DefaultSessionConfig()
	cfg.Instructions = "be brief"
	cfg.Voice = "verse"

	c := NewClient(srv.URL, "sk-test", nil)
	if err := c.Connect(cfg); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}

	var msg map[string]any
	select {
	case msg = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received session.update")
	}

	if msg["type"] != "session.update" {
		t.Fatalf("first message type = %v, want session.update", msg["type"])
	}
	session, _ := msg["session"].(map[string]any)
	if session["instructions"] != "be brief" {
		t.Errorf("instructions = %v", session["instructions"])
	}
	if session["voice"] != "verse" {
		t.Errorf("voice = %v", session["voice"])
	}
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("input_audio_format = %v", session["input_audio_format"])
	}
	trans, _ := session["input_audio_transcription"].(map[string]any)
	if trans["model"] != "whisper-1" {
		t.Errorf("transcription model = %v", trans["model"])
	}
	td, _ := session["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection type = %v", td["type"])
	}
}

func TestSendTextAndAudioWireShape(t *testing.T) {
	msgs := make(chan map[string]any, 8)
	srv := newTestServer(t, func(ws *websocket.Conn) {
		for {
			ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				msgs <- m
			}
		}
	})

	c := NewClient(srv.URL, "sk-test", nil)
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	next := func() map[string]any {
		select {
		case m := <-msgs:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
			return nil
		}
	}
	next() // session.update

	if err := c.SendText("hello"); err != nil {
		t.Fatal(err)
	}
	m := next()
	if m["type"] != "conversation.item.create" {
		t.Fatalf("type = %v", m["type"])
	}
	item, _ := m["item"].(map[string]any)
	if item["type"] != "text" {
		t.Errorf("item type = %v", item["type"])
	}
	content, _ := item["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content length = %d", len(content))
	}
	part, _ := content[0].(map[string]any)
	if part["type"] != "text" || part["value"] != "hello" {
		t.Errorf("content part = %v", part)
	}

	if err := c.SendAudio([]float32{0, 0.5, -0.5}); err != nil {
		t.Fatal(err)
	}
	m = next()
	if m["type"] != "input_audio_buffer.append" {
		t.Fatalf("type = %v", m["type"])
	}
	if audio, _ := m["audio"].(string); audio == "" {
		t.Error("audio payload should be non-empty transport text")
	}
}

func TestSendAudioWhenDisconnectedIsNoOp(t *testing.T) {
	c := NewClient("wss://example.com", "sk-test", nil)
	if err := c.SendAudio([]float32{0.1}); err != nil {
		t.Fatalf("disconnected SendAudio should be a no-op, got %v", err)
	}
	if err := c.UpdateInstructions("new prompt"); err != nil {
		t.Fatalf("disconnected UpdateInstructions should be a no-op, got %v", err)
	}
	if err := c.SendText("hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("disconnected SendText should fail, got %v", err)
	}
}

func TestDispatchRoutesEvents(t *testing.T) {
	srv := newTestServer(t, func(ws *websocket.Conn) {
		events := []string{
			`{"type":"input_audio_buffer.speech_started"}`,
			`{"type":"input_audio_buffer.speech_stopped"}`,
			`{"type":"conversation.item.input_audio_transcription.delta","item_id":"u1","delta":"hello "}`,
			`{"type":"conversation.item.input_audio_transcription.delta","item_id":"u1","delta":"there"}`,
			`{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"hello there"}`,
			`{"type":"response.text.delta","item_id":"a1","delta":"Hi"}`,
			`{"type":"response.audio_transcript.delta","item_id":"a1","delta":"!"}`,
			`{"type":"response.done"}`,
			`{"type":"error","error":{"code":"rate_limit","message":"slow down"}}`,
		}
		readMsg(t, ws) // session.update
		for _, ev := range events {
			ws.WriteMessage(websocket.TextMessage, []byte(ev))
		}
		select {}
	})

	type delta struct{ id, text string }
	var (
		mu            sync.Mutex
		started       int
		stopped       int
		deltas        []delta
		finalID       string
		finalText     string
		responses     []delta
		doneCount     int
		serverErr     error
	)
	done := make(chan struct{})

	c := NewClient(srv.URL, "sk-test", nil)
	c.OnSpeechStarted = func() { mu.Lock(); started++; mu.Unlock() }
	c.OnSpeechStopped = func() { mu.Lock(); stopped++; mu.Unlock() }
	c.OnTranscriptionDelta = func(id, d string) {
		mu.Lock()
		deltas = append(deltas, delta{id, d})
		mu.Unlock()
	}
	c.OnTranscriptionCompleted = func(id, tr string) {
		mu.Lock()
		finalID, finalText = id, tr
		mu.Unlock()
	}
	c.OnResponseDelta = func(id, d string) {
		mu.Lock()
		responses = append(responses, delta{id, d})
		mu.Unlock()
	}
	c.OnResponseDone = func() { mu.Lock(); doneCount++; mu.Unlock() }
	c.OnServerError = func(err error) {
		mu.Lock()
		serverErr = err
		mu.Unlock()
		close(done)
	}

	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	if started != 1 || stopped != 1 {
		t.Errorf("speech callbacks: started=%d stopped=%d", started, stopped)
	}
	if len(deltas) != 2 || deltas[0] != (delta{"u1", "hello "}) || deltas[1] != (delta{"u1", "there"}) {
		t.Errorf("transcription deltas = %v", deltas)
	}
	if finalID != "u1" || finalText != "hello there" {
		t.Errorf("completion = %s %q", finalID, finalText)
	}
	if len(responses) != 2 || responses[0] != (delta{"a1", "Hi"}) || responses[1] != (delta{"a1", "!"}) {
		t.Errorf("response deltas = %v", responses)
	}
	if doneCount != 1 {
		t.Errorf("response.done count = %d", doneCount)
	}
	var perr *ProtocolError
	if !errors.As(serverErr, &perr) {
		t.Fatalf("expected ProtocolError, got %v", serverErr)
	}
	if perr.Message != "slow down" || perr.Code != "rate_limit" {
		t.Errorf("protocol error = %+v", perr)
	}
}

func TestServerCloseReportsDisconnect(t *testing.T) {
	srv := newTestServer(t, func(ws *websocket.Conn) {
		readMsg(t, ws) // session.update
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(time.Second))
		ws.Close()
	})

	disconnected := make(chan error, 1)
	c := NewClient(srv.URL, "sk-test", nil)
	c.OnDisconnect = func(err error) { disconnected <- err }

	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatal("server-initiated close should carry an error")
		}
		if strings.Contains(err.Error(), "check API key") {
			t.Errorf("normal close code should not produce the auth hint: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestAbnormalCloseGetsAuthHint(t *testing.T) {
	srv := newTestServer(t, func(ws *websocket.Conn) {
		readMsg(t, ws) // session.update
		// Drop the TCP connection without a close frame.
		ws.UnderlyingConn().Close()
	})

	disconnected := make(chan error, 1)
	c := NewClient(srv.URL, "sk-test", nil)
	c.OnDisconnect = func(err error) { disconnected <- err }

	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatal("abnormal close should carry an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := newTestServer(t, func(ws *websocket.Conn) {
		readMsg(t, ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(srv.URL, "sk-test", nil)
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatal(err)
	}

	c.Disconnect()
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}

	// Second connect after a disconnect works.
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	c.Disconnect()
}
