package middlewares

import (
	"github.com/inboxpilot/provisioner/internal/auth"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const userIDLocalKey = "user_id"

// IdentityMiddleware rejects requests without a verified bearer token before
// any handler runs, and stores the token subject for UserID.
func IdentityMiddleware(verifier auth.IdentityVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "auth_error",
				"message": "Missing bearer token",
			})
		}

		userID, err := verifier.Verify(c.RequestCtx(), token)
		if err != nil {
			log.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Rejected caller identity")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "auth_error",
				"message": "Invalid identity token",
			})
		}

		c.Locals(userIDLocalKey, userID)

		return c.Next()
	}
}

// UserID returns the caller id stored by IdentityMiddleware.
func UserID(c fiber.Ctx) string {
	userID, _ := c.Locals(userIDLocalKey).(string)
	return userID
}
