// Package web exposes the conversation over HTTP: a JSON API for
// status and transcript, controls for text input and read-aloud, and
// websocket streams for live updates.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/hub"
	"github.com/vocalis-ai/vocalis/pkg/session"
	"github.com/vocalis-ai/vocalis/pkg/transcript"
)

// Server serves the conversation API and websocket streams.
type Server struct {
	app     *fiber.App
	addr    string
	logger  *slog.Logger
	session *session.Session

	// Hubs for websocket broadcast
	statusHub     *hub.Hub
	transcriptHub *hub.Hub
	audioHub      *hub.Hub
}

// NewServer creates the web server and claims the session's observer
// callbacks.
func NewServer(addr string, sess *session.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:          addr,
		logger:        logger,
		session:       sess,
		statusHub:     hub.New("status", logger),
		transcriptHub: hub.New("transcript", logger),
		audioHub:      hub.New("audio", logger),
	}

	sess.OnStatus = func(st session.Status) {
		s.statusHub.BroadcastJSON(st)
	}
	sess.OnTranscript = func(items []transcript.Item) {
		s.transcriptHub.BroadcastJSON(items)
	}

	app := fiber.New(fiber.Config{
		AppName:               "vocalis",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Post("/say", s.handleSay)
	api.Post("/speak", s.handleSpeak)
	api.Post("/instructions", s.handleInstructions)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.streamHandler(s.statusHub)))
	app.Get("/ws/transcript", websocket.New(s.streamHandler(s.transcriptHub)))
	app.Get("/ws/audio", websocket.New(s.streamHandler(s.audioHub)))

	s.app = app
	return s
}

// BroadcastAudio streams a synthesized WAV blob to audio subscribers.
// Wired to the speaker's playback-start callback. Malformed blobs are
// dropped so subscribers only ever receive playable audio.
func (s *Server) BroadcastAudio(wav []byte) {
	pcm, rate, err := audio.ParseWAV(wav)
	if err != nil {
		s.logger.Warn("dropping malformed audio blob", "error", err)
		return
	}
	s.logger.Debug("broadcasting audio", "pcm_bytes", len(pcm), "sample_rate", rate)
	s.audioHub.BroadcastBinary(wav)
}

// streamHandler registers the connection with a hub and pumps
// broadcasts until the client goes away.
func (s *Server) streamHandler(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := hub.NewClient(h, c)
		client.Run()
	}
}

// Start runs the hubs and listens. Blocks until shutdown.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.transcriptHub.Run()
	go s.audioHub.Run()

	s.logger.Info("web server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
