package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/middleware"
	"github.com/rithikrice/bondMatchPlus/models"
	"github.com/rithikrice/bondMatchPlus/services"
)

type CreateAuctionRequest struct {
	InstrumentID        string           `json:"instrument_id"`
	Notional            int64            `json:"notional"`
	MinSize             int64            `json:"min_size"`
	TickSize            *decimal.Decimal `json:"tick_size"`
	AnnouncedAt         *time.Time       `json:"announced_at"`
	RegistrationCloseAt *time.Time       `json:"registration_close_at"`
	StartsAt            time.Time        `json:"starts_at"`
	EndsAt              time.Time        `json:"ends_at"`
	FairPrice           *decimal.Decimal `json:"fair_price"`
	Tolerance           *decimal.Decimal `json:"tolerance"`
	MinLiveMs           int64            `json:"min_live_ms"`
}

func (r CreateAuctionRequest) spec() models.AuctionSpec {
	s := models.AuctionSpec{
		InstrumentID:        r.InstrumentID,
		Notional:            r.Notional,
		MinSize:             r.MinSize,
		TickSize:            r.TickSize,
		AnnouncedAt:         r.AnnouncedAt,
		RegistrationCloseAt: r.RegistrationCloseAt,
		StartsAt:            r.StartsAt,
		EndsAt:              r.EndsAt,
		FairPrice:           r.FairPrice,
		MinLiveDuration:     time.Duration(r.MinLiveMs) * time.Millisecond,
	}
	if r.Tolerance != nil {
		s.Tolerance = *r.Tolerance
	}
	return s
}

// CreateAuction registers a new auction (admin only)
func CreateAuction(c *fiber.Ctx) error {
	var req CreateAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	a, err := services.GlobalAuctionService.Create(c.UserContext(), req.spec(), middleware.ParticipantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Auction created",
		"id":      a.ID,
		"auction": a,
	})
}

// ListAuctions supports ?status= and ?instrument= filters
func ListAuctions(c *fiber.Ctx) error {
	f := ledger.AuctionFilter{
		Status:       models.AuctionStatus(c.Query("status")),
		InstrumentID: c.Query("instrument"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return badRequest(c, "Unknown status filter")
	}

	auctions, err := services.GlobalAuctionService.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	if auctions == nil {
		auctions = []models.Auction{}
	}
	return c.JSON(auctions)
}

func GetAuction(c *fiber.Ctx) error {
	view, err := services.GlobalAuctionService.Snapshot(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// GetAuctionEvents returns the auction's ledger event log. Other
// participants' names are blanked on quote events.
func GetAuctionEvents(c *fiber.Ctx) error {
	events, err := services.GlobalAuctionService.Events(c.UserContext(), c.Params("id"), actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(events)
}

func GetClearing(c *fiber.Ctx) error {
	r, err := services.GlobalAuctionService.Clearing(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(r)
}
