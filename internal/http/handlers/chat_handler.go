package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"dealerchat/internal/domain"
	"dealerchat/internal/log"
	"dealerchat/internal/services"
	"dealerchat/internal/validate"
)

type ChatHandler struct {
	Chat *services.ChatService
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type chatResponse struct {
	Response   string           `json:"response"`
	Cars       []domain.Listing `json:"cars,omitempty"`
	ThreadID   string           `json:"thread_id"`
	NewSession bool             `json:"new_session"`
	Takeover   bool             `json:"takeover,omitempty"`
}

// Turn handles POST /chat.
func (h *ChatHandler) Turn(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		log.Security(c, "validation.fail", map[string]any{"field": "body"})
		return jsonError(c, fiber.StatusBadRequest, "Невалидна заявка.", nil)
	}

	msg, ok := validate.Message(req.Message)
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "message", "len": len(req.Message)})
		return jsonError(c, fiber.StatusBadRequest, "Моля, въведете съобщение.", nil)
	}
	sid := ""
	if strings.TrimSpace(req.ThreadID) != "" {
		if sid, ok = validate.SessionID(req.ThreadID); !ok {
			log.Security(c, "validation.fail", map[string]any{"field": "thread_id"})
			return jsonError(c, fiber.StatusBadRequest, "Невалидна сесия.", nil)
		}
		c.Locals("session_id", sid)
	}

	res, err := h.Chat.HandleTurn(c.UserContext(), sid, msg)
	if err != nil {
		var te *services.TurnError
		if !errors.As(err, &te) {
			log.Error(c, "chat.error", err, nil)
			return jsonError(c, fiber.StatusInternalServerError, "Възникна критична грешка на сървъра.", nil)
		}
		c.Locals("session_id", te.SessionID)
		status := turnErrorStatus(te.Kind)
		if te.Retryable {
			c.Set(fiber.HeaderRetryAfter, "2")
		}
		log.Info(c, "chat.turn.rejected", map[string]any{"kind": string(te.Kind)})
		return jsonError(c, status, te.Message, fiber.Map{"thread_id": te.SessionID, "kind": te.Kind, "retryable": te.Retryable})
	}

	c.Locals("session_id", res.SessionID)
	log.Info(c, "chat.turn", map[string]any{"cars": len(res.Listings), "new_session": res.NewSession, "takeover": res.Takeover})
	return c.JSON(chatResponse{
		Response:   res.Reply,
		Cars:       res.Listings,
		ThreadID:   res.SessionID,
		NewSession: res.NewSession,
		Takeover:   res.Takeover,
	})
}

func turnErrorStatus(k services.ErrorKind) int {
	switch k {
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindRunFailed:
		return fiber.StatusBadGateway
	case services.KindRunStalled:
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}
