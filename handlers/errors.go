package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/services"
)

var kindStatus = map[engine.Kind]int{
	engine.KindValidation:  fiber.StatusBadRequest,
	engine.KindNotFound:    fiber.StatusNotFound,
	engine.KindState:       fiber.StatusConflict,
	engine.KindConcurrency: fiber.StatusConflict,
	engine.KindIntegrity:   fiber.StatusConflict,
}

// respondError turns a service or engine error into a JSON response.
// Anything unrecognised is a 500 with the detail kept out of the body.
func respondError(c *fiber.Ctx, err error) error {
	if e, ok := engine.AsError(err); ok {
		body := fiber.Map{
			"error":  e.Message,
			"kind":   e.Kind,
			"reason": e.Reason,
		}
		if !e.NotBefore.IsZero() {
			body["not_before"] = e.NotBefore
		}
		return c.Status(kindStatus[e.Kind]).JSON(body)
	}

	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrUsernameTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Username already taken"})
	case errors.Is(err, services.ErrSelfDemotion):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNoParticipant):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Participant not found"})
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid username or password"})
	}

	log.Printf("❌ %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
