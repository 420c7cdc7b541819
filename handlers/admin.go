package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/middleware"
	"github.com/rithikrice/bondMatchPlus/models"
	"github.com/rithikrice/bondMatchPlus/services"
)

type TransitionRequest struct {
	Target string `json:"target"`
}

// TransitionAuction forces an auction to LIVE or CLOSED ahead of its timeline.
// Asking for the state the auction is already in succeeds with changed=false.
func TransitionAuction(c *fiber.Ctx) error {
	var req TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	target := models.AuctionStatus(strings.ToUpper(req.Target))

	a, changed, err := services.GlobalAuctionService.Transition(c.UserContext(), c.Params("id"), target, middleware.ParticipantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"auction": a,
		"changed": changed,
	})
}

// VerifyAudit recomputes the digest. A mismatch answers 409 with the
// verification so operators see both digests.
func VerifyAudit(c *fiber.Ctx) error {
	v, err := services.GlobalAuctionService.Verify(c.UserContext(), c.Params("id"))
	if engine.IsKind(err, engine.KindIntegrity) && v.AuctionID != "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":        err.Error(),
			"verification": v,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"verification": v})
}

func GetStats(c *fiber.Ctx) error {
	st, err := services.GlobalAuctionService.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(st)
}
