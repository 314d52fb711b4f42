package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/samber/lo"
)

// Messenger sends and marks messages so that live sessions are notified.
type Messenger interface {
	SendMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) (*models.Message, error)
}

type MessageHandler struct {
	messageService *service.MessageService
	messenger      Messenger
}

func NewMessageHandler(messageService *service.MessageService, messenger Messenger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		messenger:      messenger,
	}
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input service.SendMessageInput
	if ok, err := httpx.Bind(c, &input); !ok {
		return err
	}

	message, err := h.messenger.SendMessage(c.UserContext(), userID, input.ReceiverID, input.Content)
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(message.ToResponse())
}

func (h *MessageHandler) GetConversation(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	otherUserID := strings.TrimSpace(c.Params("userId"))
	if otherUserID == "" {
		return httpx.BadRequest(c, "missing_user_id", "userId is required")
	}

	var before *repository.Cursor
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return httpx.BadRequest(c, "invalid_before", "before must be an RFC3339 timestamp")
		}
		before = &repository.Cursor{CreatedAt: t, ID: strings.TrimSpace(c.Query("beforeId"))}
	}

	messages, err := h.messageService.GetConversation(c.UserContext(), userID, otherUserID, c.QueryInt("limit", 0), before)
	if err != nil {
		return httpx.FromError(c, err)
	}

	result := fiber.Map{
		"messages": lo.Map(messages, func(m models.Message, _ int) models.MessageResponse { return m.ToResponse() }),
		"count":    len(messages),
	}
	if len(messages) > 0 {
		// Newest first; the oldest row is the next page's exclusive bound.
		oldest := messages[len(messages)-1]
		result["nextBefore"] = oldest.CreatedAt.UTC().Format(time.RFC3339Nano)
		result["nextBeforeId"] = oldest.ID
	}

	return c.JSON(result)
}

func (h *MessageHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	message, err := h.messenger.MarkRead(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.JSON(message.ToResponse())
}

func (h *MessageHandler) MarkConversationRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	updated, err := h.messageService.MarkConversationRead(c.UserContext(), userID, c.Params("otherUserId"))
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.JSON(fiber.Map{
		"updated": updated,
	})
}

func (h *MessageHandler) GetUnreadCount(c *fiber.Ctx) error {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	count, err := h.messageService.UnreadCount(c.UserContext(), userID)
	if err != nil {
		return httpx.FromError(c, err)
	}

	return c.JSON(fiber.Map{
		"count": count,
	})
}
