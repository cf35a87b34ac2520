package handlers

import "github.com/gofiber/fiber/v2"

type PageHandler struct{}

// Index serves the chat page; the conversation itself goes through POST /chat.
func (h *PageHandler) Index(c *fiber.Ctx) error {
	return render(c, "index", fiber.Map{"Title": "Peugeot асистент"})
}

func (h *PageHandler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": "Страницата не е намерена"})
}
