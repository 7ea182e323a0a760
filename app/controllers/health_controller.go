package controllers

import "github.com/gofiber/fiber/v2"

// HandleHealth is probed by mockupctl's connectivity monitor.
func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
