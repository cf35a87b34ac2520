package handlers

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"

	"dealerchat/internal/log"
	"dealerchat/internal/repos"
	"dealerchat/internal/validate"
)

// SessionHandler exposes the transcript and the operator takeover flag.
type SessionHandler struct {
	Transcripts *repos.TranscriptRepo
}

func (h *SessionHandler) sessionID(c *fiber.Ctx) (string, bool) {
	sid, ok := validate.SessionID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "id"})
		return "", false
	}
	c.Locals("session_id", sid)
	return sid, true
}

func (h *SessionHandler) Messages(c *fiber.Ctx) error {
	sid, ok := h.sessionID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid session id", nil)
	}
	msgs, err := h.Transcripts.Messages(sid)
	if err != nil {
		log.Error(c, "transcript.read.error", err, nil)
		return jsonError(c, fiber.StatusInternalServerError, "could not load transcript", nil)
	}
	return c.JSON(fiber.Map{"session_id": sid, "messages": msgs})
}

func (h *SessionHandler) GetTakeover(c *fiber.Ctx) error {
	sid, ok := h.sessionID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid session id", nil)
	}
	s, err := h.Transcripts.Session(sid)
	if errors.Is(err, sql.ErrNoRows) {
		return jsonError(c, fiber.StatusNotFound, "session not found", nil)
	}
	if err != nil {
		log.Error(c, "takeover.read.error", err, nil)
		return jsonError(c, fiber.StatusInternalServerError, "could not load session", nil)
	}
	return c.JSON(fiber.Map{"session_id": sid, "takeover": s.Takeover})
}

func (h *SessionHandler) SetTakeover(c *fiber.Ctx) error {
	sid, ok := h.sessionID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid session id", nil)
	}
	var body struct {
		Takeover *bool `json:"takeover"`
	}
	if err := c.BodyParser(&body); err != nil || body.Takeover == nil {
		return jsonError(c, fiber.StatusBadRequest, "takeover must be true or false", nil)
	}
	if err := h.Transcripts.SetTakeover(sid, *body.Takeover); err != nil {
		log.Error(c, "takeover.write.error", err, nil)
		return jsonError(c, fiber.StatusInternalServerError, "could not update session", nil)
	}
	log.Info(c, "takeover.set", map[string]any{"takeover": *body.Takeover})
	return c.JSON(fiber.Map{"session_id": sid, "takeover": *body.Takeover})
}
