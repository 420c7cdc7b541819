package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rithikrice/bondMatchPlus/models"
)

const (
	localParticipant = "participantId"
	localRole        = "role"
)

// AuthMiddleware validates the bearer token and stores the participant id and
// role in locals.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing Authorization Header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Authorization Header Format"})
		}

		id, role, err := ParseToken(secret, parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}

		c.Locals(localParticipant, id)
		c.Locals(localRole, role)
		return c.Next()
	}
}

// ParseToken validates an HS256 token and returns its participant id and role.
func ParseToken(secret, tokenStr string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.New("Invalid or Expired Token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("Invalid Token Claims")
	}
	id, _ := claims["participantId"].(string)
	if id == "" {
		return "", "", errors.New("Token carries no participant")
	}
	role, _ := claims["role"].(string)
	return id, role, nil
}

// AdminAuthMiddleware ensures the caller has the ADMIN role. It must run after
// AuthMiddleware.
func AdminAuthMiddleware(c *fiber.Ctx) error {
	if !IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Admin access required"})
	}
	return c.Next()
}

func ParticipantID(c *fiber.Ctx) string {
	id, _ := c.Locals(localParticipant).(string)
	return id
}

func IsAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals(localRole).(string)
	return role == models.RoleAdmin
}

// Rate Limiters

// AuthLimiter: 200 req/min
func NewAuthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        200,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many login/register attempts, try again later"})
		},
	})
}

// DataLimiter: 5000 req/min
func NewDataLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        5000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many data requests, slow down"})
		},
	})
}

// QuoteLimiter: 10000 req/min per participant, falling back to IP before auth.
func NewQuoteLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        10000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := ParticipantID(c); id != "" {
				return "participant:" + id
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Quote submissions too fast (max 10000/minute)"})
		},
	})
}
