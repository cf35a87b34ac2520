package handlers

import "github.com/gofiber/fiber/v2"

func render(c *fiber.Ctx, tmpl string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	if rid, ok := c.Locals("requestid").(string); ok {
		data["RequestID"] = rid
	}
	return c.Render(tmpl, data)
}

// jsonError is the error body shape for every JSON endpoint.
func jsonError(c *fiber.Ctx, status int, msg string, extra fiber.Map) error {
	body := fiber.Map{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}
