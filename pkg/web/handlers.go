package web

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/vocalis-ai/vocalis/pkg/realtime"
)

// handleStatus returns the current session status.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.session.Status())
}

// handleTranscript returns the conversation so far.
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(s.session.Transcript())
}

// ConnectRequest optionally overrides the session prompt and voice.
type ConnectRequest struct {
	Instructions string `json:"instructions"`
	Voice        string `json:"voice"`
}

// handleConnect opens capture and the realtime socket.
func (s *Server) handleConnect(c *fiber.Ctx) error {
	var req ConnectRequest
	c.BodyParser(&req) // body is optional

	cfg := realtime.DefaultSessionConfig()
	if req.Instructions != "" {
		cfg.Instructions = req.Instructions
	}
	if req.Voice != "" {
		cfg.Voice = req.Voice
	}

	if err := s.session.Connect(cfg); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.session.Status())
}

// handleDisconnect tears the session down.
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.session.Disconnect()
	return c.JSON(s.session.Status())
}

// SayRequest is the body for POST /api/say.
type SayRequest struct {
	Text string `json:"text"`
}

// handleSay sends typed text into the conversation.
func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text required",
		})
	}

	if err := s.session.SendText(req.Text); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// SpeakRequest is the body for POST /api/speak.
type SpeakRequest struct {
	ItemID string `json:"item_id"`
}

// handleSpeak toggles read-aloud for a transcript item.
func (s *Server) handleSpeak(c *fiber.Ctx) error {
	var req SpeakRequest
	if err := c.BodyParser(&req); err != nil || req.ItemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item_id required",
		})
	}

	// Playback outlives the request, so it gets its own context.
	if err := s.session.Speak(context.Background(), req.ItemID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// InstructionsRequest is the body for POST /api/instructions.
type InstructionsRequest struct {
	Instructions string `json:"instructions"`
}

// handleInstructions updates the live system prompt.
func (s *Server) handleInstructions(c *fiber.Ctx) error {
	var req InstructionsRequest
	if err := c.BodyParser(&req); err != nil || req.Instructions == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "instructions required",
		})
	}

	if err := s.session.UpdateInstructions(req.Instructions); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}
