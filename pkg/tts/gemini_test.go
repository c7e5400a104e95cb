package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/vocalis-ai/vocalis/internal/httpc"
)

func geminiBody(mimeType string, pcm []byte) string {
	data := base64.StdEncoding.EncodeToString(pcm)
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":%q,"data":%q}}]}}]}`, mimeType, data)
}

func newGeminiAgainst(t *testing.T, srv *httptest.Server) *Gemini {
	t.Helper()
	g, err := NewGemini(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGeminiSynthesize(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, geminiBody("audio/L16; rate=24000", pcm))
	}))
	defer srv.Close()

	g := newGeminiAgainst(t, srv)
	result, err := g.Synthesize(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}

	if string(result.PCM) != string(pcm) {
		t.Errorf("pcm = %v, want %v", result.PCM, pcm)
	}
	if result.SampleRate != 24000 {
		t.Errorf("sample rate = %d", result.SampleRate)
	}
	if result.CharCount != len("hello world") {
		t.Errorf("char count = %d", result.CharCount)
	}

	var req map[string]any
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	contents, _ := req["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents length = %d", len(contents))
	}
	gc, _ := req["generationConfig"].(map[string]any)
	modalities, _ := gc["responseModalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", modalities)
	}
	speech, _ := gc["speechConfig"].(map[string]any)
	voice, _ := speech["voiceConfig"].(map[string]any)
	prebuilt, _ := voice["prebuiltVoiceConfig"].(map[string]any)
	if prebuilt["voiceName"] != "Kore" {
		t.Errorf("voiceName = %v", prebuilt["voiceName"])
	}
}

func TestGeminiInvalidAudioResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no candidates", `{"candidates":[]}`},
		{"text part only", `{"candidates":[{"content":{"parts":[{"text":"not audio"}]}}]}`},
		{"wrong format", geminiBody("audio/mpeg", []byte{1, 2})},
		{"missing rate", geminiBody("audio/L16", []byte{1, 2})},
		{"bad base64", `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16; rate=24000","data":"!!!"}}]}}]}`},
		{"not json", `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			g := newGeminiAgainst(t, srv)
			_, err := g.Synthesize(context.Background(), "hi")
			if !errors.Is(err, ErrInvalidAudioResponse) {
				t.Fatalf("expected ErrInvalidAudioResponse, got %v", err)
			}
		})
	}
}

func TestGeminiRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, geminiBody("audio/L16; rate=16000", []byte{9, 9}))
	}))
	defer srv.Close()

	g := newGeminiAgainst(t, srv)
	g.http.BaseDelay = 1
	g.http.MaxJitter = 1

	result, err := g.Synthesize(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if result.SampleRate != 16000 {
		t.Errorf("sample rate = %d", result.SampleRate)
	}
}

func TestGeminiFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid voice"}}`)
	}))
	defer srv.Close()

	g := newGeminiAgainst(t, srv)
	_, err := g.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *httpc.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Message != "invalid voice" {
		t.Errorf("message = %q", statusErr.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("client errors should not retry: %d calls", calls.Load())
	}
}

func TestGeminiRequiresConfig(t *testing.T) {
	if _, err := NewGemini(); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}

	g, err := NewGemini(WithAPIKey("k"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Synthesize(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}
