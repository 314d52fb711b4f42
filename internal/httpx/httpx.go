package httpx

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/hirpha/mini-chat-backend/internal/validation"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

func Unavailable(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// FromError renders a service error with the status its sentinel implies.
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential):
		return Unauthorized(c, "invalid_credential", "Invalid or expired credential")
	case errors.Is(err, service.ErrValidation):
		return BadRequest(c, "validation_failed", err.Error())
	case errors.Is(err, service.ErrNotFound):
		return NotFound(c, "not_found", "Not found")
	case errors.Is(err, service.ErrForbidden):
		return Forbidden(c, "forbidden", err.Error())
	case errors.Is(err, service.ErrStorageNotConfigured):
		return Unavailable(c, "storage_not_configured", "Storage not configured")
	case errors.Is(err, service.ErrStore):
		return Unavailable(c, "store_failure", "Storage temporarily unavailable")
	default:
		return Internal(c, "internal_error")
	}
}

// Bind decodes the request body into dst and validates its tags. When ok is
// false the 400 response has already been written.
func Bind(c *fiber.Ctx, dst interface{}) (ok bool, err error) {
	if err := c.BodyParser(dst); err != nil {
		return false, BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if err := validation.Struct(dst); err != nil {
		return false, BadRequest(c, "validation_failed", err.Error())
	}
	return true, nil
}

func LocalString(c *fiber.Ctx, key string) (string, error) {
	v := c.Locals(key)
	if v == nil {
		return "", fmt.Errorf("missing local %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("invalid local %s", key)
	}
	return s, nil
}
