package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rithikrice/bondMatchPlus/services"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

func Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.FullName == "" || req.Password == "" {
		return badRequest(c, "Username, fullName and password are required")
	}

	p, err := services.GlobalParticipantService.Register(c.UserContext(), req.Username, req.FullName, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Participant registered",
		"participant": p,
	})
}

func Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "Username and password are required")
	}

	token, p, err := services.GlobalParticipantService.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
		"participant": fiber.Map{
			"id":        p.ID,
			"username":  p.Username,
			"full_name": p.FullName,
			"role":      p.Role,
		},
	})
}
