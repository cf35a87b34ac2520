package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	applog "dealerchat/internal/log"
)

// ErrorHandler is the app-wide fiber error handler. JSON routes get a JSON
// body, pages get the notfound template; internal details never reach the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	if status >= fiber.StatusInternalServerError {
		applog.Error(c, "server.error", err, nil)
	}

	msg := "Възникна критична грешка на сървъра."
	if status < fiber.StatusInternalServerError && fe != nil {
		msg = fe.Message
	}

	p := c.Path()
	if p == "/chat" || strings.HasPrefix(p, "/api/") {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	if rerr := c.Status(status).Render("notfound", fiber.Map{"Message": msg}); rerr != nil {
		return c.Status(status).SendString(msg)
	}
	return nil
}
