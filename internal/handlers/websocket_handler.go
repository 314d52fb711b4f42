package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/handlers/ws"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
)

type WebSocketHandler struct {
	hub *ws.Hub
}

func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// GetHub returns the hub instance (useful for sending messages from other handlers)
func (h *WebSocketHandler) GetHub() *ws.Hub {
	return h.hub
}

// Upgrade rejects plain HTTP requests and captures the credential for the
// handshake. Authentication itself runs inside the hub.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return httpx.Error(c, fiber.StatusUpgradeRequired, "upgrade_required", "Websocket upgrade required")
	}

	credential := strings.TrimSpace(c.Query("token"))
	if credential == "" {
		if token, ok := auth.BearerToken(c.Get("Authorization")); ok {
			credential = token
		}
	}
	c.Locals("credential", credential)
	return c.Next()
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	credential, _ := c.Locals("credential").(string)
	h.hub.Serve(c, credential)
}
