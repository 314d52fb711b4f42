package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
	"github.com/hirpha/mini-chat-backend/internal/middleware"
	"github.com/hirpha/mini-chat-backend/internal/service"
)

type AuthHandler struct {
	authService  *service.AuthService
	secureCookie bool
}

func NewAuthHandler(authService *service.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{authService: authService, secureCookie: secureCookie}
}

func (h *AuthHandler) RequestOTP(c *fiber.Ctx) error {
	var input service.RequestOTPInput
	if ok, err := httpx.Bind(c, &input); !ok {
		return err
	}

	result, err := h.authService.RequestOTP(c.UserContext(), input.PhoneNumber)
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.JSON(result)
}

func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var input service.VerifyOTPInput
	if ok, err := httpx.Bind(c, &input); !ok {
		return err
	}

	result, err := h.authService.VerifyOTP(c.UserContext(), input.PhoneNumber, input.Code)
	if err != nil {
		return httpx.FromError(c, err)
	}

	h.setAccessCookie(c, result.AccessToken, result.AccessTokenExpiresAt)
	return c.JSON(result)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var input service.RefreshInput
	if ok, err := httpx.Bind(c, &input); !ok {
		return err
	}

	result, err := h.authService.Refresh(c.UserContext(), input.RefreshToken)
	if err != nil {
		return httpx.FromError(c, err)
	}

	h.setAccessCookie(c, result.AccessToken, result.AccessTokenExpiresAt)
	return c.JSON(result)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var input service.RefreshInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if err := h.authService.Logout(c.UserContext(), input.RefreshToken); err != nil {
		return httpx.FromError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.AccessCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) setAccessCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.AccessCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
