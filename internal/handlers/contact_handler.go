package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
	"github.com/hirpha/mini-chat-backend/internal/service"
)

type ContactHandler struct {
	contactService *service.ContactService
}

func NewContactHandler(contactService *service.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

// Sync matches the caller's address book against registered users.
func (h *ContactHandler) Sync(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input service.SyncContactsInput
	if ok, err := httpx.Bind(c, &input); !ok {
		return err
	}

	contacts, err := h.contactService.Sync(c.UserContext(), userID, input.PhoneNumbers)
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.JSON(fiber.Map{
		"contacts": contacts,
	})
}
