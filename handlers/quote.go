package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/middleware"
	"github.com/rithikrice/bondMatchPlus/models"
	"github.com/rithikrice/bondMatchPlus/services"
)

// QuoteRequest is the body of submit and replace. A missing price is a
// market order.
type QuoteRequest struct {
	Side     string           `json:"side"`
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

func actor(c *fiber.Ctx) engine.Actor {
	return engine.Actor{ID: middleware.ParticipantID(c), Admin: middleware.IsAdmin(c)}
}

// SubmitQuote admits a bid or offer for the authenticated participant
func SubmitQuote(c *fiber.Ctx) error {
	var req QuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	q, err := services.GlobalAuctionService.Submit(c.UserContext(), engine.SubmitRequest{
		AuctionID:     c.Params("id"),
		ParticipantID: middleware.ParticipantID(c),
		Side:          models.Side(strings.ToUpper(req.Side)),
		Quantity:      req.Quantity,
		Price:         req.Price,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Quote admitted",
		"id":      q.ID,
		"quote":   q,
	})
}

// ListQuotes supports ?participant= and ?status=; participants only see their own
func ListQuotes(c *fiber.Ctx) error {
	f := engine.QuoteFilter{
		ParticipantID: c.Query("participant"),
		Status:        models.QuoteStatus(strings.ToUpper(c.Query("status"))),
	}
	quotes, err := services.GlobalAuctionService.Quotes(c.UserContext(), c.Params("id"), f, actor(c))
	if err != nil {
		return respondError(c, err)
	}
	if quotes == nil {
		quotes = []models.QuoteRequest{}
	}
	return c.JSON(quotes)
}

func GetQuote(c *fiber.Ctx) error {
	q, err := services.GlobalAuctionService.Quote(c.UserContext(), c.Params("id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(q)
}

func CancelQuote(c *fiber.Ctx) error {
	q, err := services.GlobalAuctionService.Cancel(c.UserContext(), c.Params("id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Quote cancelled",
		"quote":   q,
	})
}

// ReplaceQuote cancels the quote and admits its replacement in one step
func ReplaceQuote(c *fiber.Ctx) error {
	var req QuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	q, err := services.GlobalAuctionService.Replace(c.UserContext(), c.Params("id"), actor(c), req.Quantity, req.Price)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":     "Quote replaced",
		"replaced_id": c.Params("id"),
		"id":          q.ID,
		"quote":       q,
	})
}
