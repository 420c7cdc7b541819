package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rithikrice/bondMatchPlus/middleware"
)

// SetupRoutes mounts the auction API. Services must be initialised first.
func SetupRoutes(app *fiber.App, secret string) {
	auth := middleware.AuthMiddleware(secret)
	dataLimiter := middleware.NewDataLimiter()
	quoteLimiter := middleware.NewQuoteLimiter()

	// Auth Routes
	authGroup := app.Group("/api/auth", middleware.NewAuthLimiter())
	authGroup.Post("/register", Register)
	authGroup.Post("/login", Login)

	// Auction Routes
	auctions := app.Group("/api/auctions")
	auctions.Get("/", dataLimiter, ListAuctions)
	auctions.Post("/", auth, middleware.AdminAuthMiddleware, CreateAuction)
	auctions.Get("/:id", dataLimiter, GetAuction)
	auctions.Get("/:id/events", auth, dataLimiter, GetAuctionEvents)
	auctions.Get("/:id/clearing", dataLimiter, GetClearing)
	auctions.Get("/:id/quotes", auth, dataLimiter, ListQuotes)
	auctions.Post("/:id/quotes", auth, quoteLimiter, SubmitQuote)

	// Quote Routes
	quotes := app.Group("/api/quotes", auth)
	quotes.Get("/:id", dataLimiter, GetQuote)
	quotes.Delete("/:id", quoteLimiter, CancelQuote)
	quotes.Put("/:id", quoteLimiter, ReplaceQuote)

	// Admin Routes
	admin := app.Group("/api/admin", auth, middleware.AdminAuthMiddleware)
	admin.Post("/auctions/:id/transition", TransitionAuction)
	admin.Post("/auctions/:id/verify", VerifyAudit)
	admin.Get("/stats", GetStats)
	admin.Get("/participants", GetAllParticipants)
	admin.Put("/participants/role", UpdateParticipantRole)
}
