package ws

import (
	"github.com/hirpha/mini-chat-backend/internal/models"
)

// MessageSend asks the hub to persist and deliver a direct message.
type MessageSend struct {
	ReceiverID string `json:"receiverId" validate:"required,uuid"`
	Content    string `json:"content"`
}

func (msg *MessageSend) GetType() string {
	return "send"
}

func (msg *MessageSend) Process(ctx *MessageContext) error {
	opCtx, cancel := ctx.Hub.operationContext()
	defer cancel()

	_, err := ctx.Hub.SendMessage(opCtx, ctx.UserID, msg.ReceiverID, msg.Content)
	return err
}

// MessageMarkRead marks a received message as read.
type MessageMarkRead struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

func (msg *MessageMarkRead) GetType() string {
	return "mark-read"
}

func (msg *MessageMarkRead) Process(ctx *MessageContext) error {
	opCtx, cancel := ctx.Hub.operationContext()
	defer cancel()

	_, err := ctx.Hub.markRead(opCtx, ctx.UserID, msg.MessageID, ctx.Session)
	return err
}

type NewMessageEvent struct {
	Message models.MessageResponse `json:"message"`
}

func (e NewMessageEvent) GetType() string { return "newMessage" }

type MessageReadEvent struct {
	Message models.MessageResponse `json:"message"`
}

func (e MessageReadEvent) GetType() string { return "messageRead" }

type UserOnlineEvent struct {
	UserID string `json:"userId"`
}

func (e UserOnlineEvent) GetType() string { return "userOnline" }

type UserOfflineEvent struct {
	UserID string `json:"userId"`
}

func (e UserOfflineEvent) GetType() string { return "userOffline" }
