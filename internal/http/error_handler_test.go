package handlers_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"

	"dealerchat/internal/http/handlers"
)

// friendly error surface, no internal leakage
func TestErrorHandlerFriendlyMessage(t *testing.T) {
	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	app.Use(requestid.New())

	app.Get("/err", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "db timeout: secret trace")
	})
	app.Get("/api/v1/err", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "db timeout: secret trace")
	})

	for _, path := range []string{"/err", "/api/v1/err"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("test request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		s := string(body)
		if !strings.Contains(s, "критична грешка") {
			t.Fatalf("%s: friendly message missing; body=%s", path, s)
		}
		if strings.Contains(s, "db timeout") || strings.Contains(s, "secret") {
			t.Fatalf("%s: internal details leaked to user; body=%s", path, s)
		}
	}
}

func TestErrorHandlerJSONForChat(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Post("/chat", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "bad input")
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/chat", nil))
	if err != nil {
		t.Fatalf("test request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		t.Fatalf("expected json, got %q", ct)
	}
}
