package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"
)

// OnlineLister reports the users with at least one live session.
type OnlineLister interface {
	ListOnline() []string
}

type PresenceHandler struct {
	presence OnlineLister
}

func NewPresenceHandler(presence OnlineLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) ListOnline(c *fiber.Ctx) error {
	users := h.presence.ListOnline()
	sort.Strings(users)
	return c.JSON(fiber.Map{
		"users": users,
		"count": len(users),
	})
}
