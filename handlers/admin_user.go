package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/rithikrice/bondMatchPlus/middleware"
	"github.com/rithikrice/bondMatchPlus/services"
)

// GetAllParticipants lists every registered participant, newest first
func GetAllParticipants(c *fiber.Ctx) error {
	participants, err := services.GlobalParticipantService.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(participants)
}

// UpdateParticipantRole promotes or demotes a participant
func UpdateParticipantRole(c *fiber.Ctx) error {
	var req struct {
		ParticipantID string `json:"participantId"`
		Role          string `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request")
	}

	p, err := services.GlobalParticipantService.SetRole(c.UserContext(), middleware.ParticipantID(c), req.ParticipantID, strings.ToUpper(req.Role))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":     "Role updated",
		"participant": p,
	})
}
