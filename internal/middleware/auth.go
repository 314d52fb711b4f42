package middleware

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
)

// AccessCookie carries the access token for browser clients.
const AccessCookie = "chat_access"

const verifyTimeout = 5 * time.Second

// AuthRequired resolves the caller through the shared identity verifier and
// stores the user id in Locals("userID").
func AuthRequired(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var tokenString string
		if authHeader := strings.TrimSpace(c.Get("Authorization")); authHeader != "" {
			token, ok := auth.BearerToken(authHeader)
			if !ok {
				return httpx.Unauthorized(c, "invalid_authorization", "Invalid authorization format")
			}
			tokenString = token
		} else {
			tokenString = c.Cookies(AccessCookie)
		}

		if tokenString == "" {
			return httpx.Unauthorized(c, "missing_access_token", "Missing access token")
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), verifyTimeout)
		defer cancel()

		userID, err := verifier.Authenticate(ctx, tokenString)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidCredential) {
				log.Printf("auth lookup failed err=%v", err)
				return httpx.Unavailable(c, "auth_unavailable", "Authentication temporarily unavailable")
			}
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid or expired token")
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}
