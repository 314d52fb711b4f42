package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/cache"
	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/validation"
)

// HistoryCache holds generation-stamped conversation pages and unread totals.
// Invalidate bumps the generation; entries written under an older one are
// never read again.
type HistoryCache interface {
	ConversationGeneration(ctx context.Context, userID1, userID2 string) (int64, error)
	GetConversation(ctx context.Context, userID1, userID2 string, gen int64) ([]models.Message, bool)
	SetConversation(ctx context.Context, userID1, userID2 string, gen int64, messages []models.Message) error
	InvalidateConversation(ctx context.Context, userID1, userID2 string) error
	UnreadGeneration(ctx context.Context, userID string) (int64, error)
	GetUnreadCount(ctx context.Context, userID string, gen int64) (int64, bool)
	SetUnreadCount(ctx context.Context, userID string, gen int64, count int64) error
	InvalidateUnreadCount(ctx context.Context, userID string) error
}

type MessageService struct {
	messageRepo repository.MessageRepositoryInterface
	userRepo    repository.UserRepositoryInterface
	cache       HistoryCache
	maxLength   int
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepositoryInterface,
	userRepo repository.UserRepositoryInterface,
	messageCache HistoryCache,
	maxLength int,
) *MessageService {
	if messageCache == nil {
		messageCache = (*cache.MessageCache)(nil)
	}
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		cache:       messageCache,
		maxLength:   maxLength,
		now:         time.Now,
	}
}

type SendMessageInput struct {
	ReceiverID string `json:"receiverId" validate:"required,uuid"`
	Content    string `json:"content" validate:"required"`
}

// Send validates and persists a direct message. Nothing is written when
// validation fails.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, validationError("receiverId is required")
	}
	if !validation.IsID(receiverID) {
		return nil, validationError("receiverId is not a valid id")
	}
	if receiverID == senderID {
		return nil, validationError("cannot send a message to yourself")
	}

	content, err := validation.CheckContent(content, s.maxLength)
	if err != nil {
		if errors.Is(err, validation.ErrContentTooLong) {
			return nil, validationError("content longer than %d characters", s.maxLength)
		}
		return nil, validationError("content is empty")
	}

	exists, err := s.userRepo.Exists(ctx, receiverID)
	if err != nil {
		return nil, storeError("find receiver", err)
	}
	if !exists {
		return nil, notFoundError("receiver %s", receiverID)
	}

	message, err := s.messageRepo.Append(ctx, senderID, receiverID, content)
	if err != nil {
		return nil, storeError("append message", err)
	}

	s.invalidate(ctx, senderID, receiverID)
	return message, nil
}

// MarkRead flips a message to read for its receiver. transitioned is false
// when the message was already read; the stored record is returned unchanged.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) (*models.Message, bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, false, validationError("messageId is required")
	}
	if !validation.IsID(messageID) {
		return nil, false, validationError("messageId is not a valid id")
	}

	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, storeError("find message", err)
	}
	if message.ReceiverID != userID {
		return nil, false, forbiddenError("only the receiver can mark a message as read")
	}
	if message.IsRead {
		return message, false, nil
	}

	updated, transitioned, err := s.messageRepo.SetRead(ctx, messageID, s.now())
	if err != nil {
		return nil, false, storeError("mark read", err)
	}
	if transitioned {
		s.invalidate(ctx, updated.SenderID, updated.ReceiverID)
	}
	return updated, transitioned, nil
}

// GetConversation pages history newest first. The first page is cached.
func (s *MessageService) GetConversation(ctx context.Context, userID, otherUserID string, limit int, before *repository.Cursor) ([]models.Message, error) {
	if !validation.IsID(otherUserID) || otherUserID == userID {
		return nil, validationError("invalid conversation partner")
	}
	if before != nil && before.ID != "" && !validation.IsID(before.ID) {
		return nil, validationError("invalid cursor id")
	}
	cacheable := before == nil && (limit <= 0 || limit == repository.DefaultRangeLimit)
	var gen int64
	if cacheable {
		var err error
		if gen, err = s.cache.ConversationGeneration(ctx, userID, otherUserID); err != nil {
			log.Printf("cache conversation generation failed err=%v", err)
			cacheable = false
		}
	}
	if cacheable {
		if cached, ok := s.cache.GetConversation(ctx, userID, otherUserID, gen); ok {
			return cached, nil
		}
	}

	messages, err := s.messageRepo.Page(ctx, userID, otherUserID, limit, before)
	if err != nil {
		return nil, storeError("range messages", err)
	}
	if cacheable {
		if err := s.cache.SetConversation(ctx, userID, otherUserID, gen, messages); err != nil {
			log.Printf("cache set conversation failed err=%v", err)
		}
	}
	return messages, nil
}

func (s *MessageService) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	if !validation.IsID(peerID) || peerID == userID {
		return 0, validationError("invalid conversation partner")
	}
	n, err := s.messageRepo.MarkConversationRead(ctx, userID, peerID)
	if err != nil {
		return 0, storeError("mark conversation read", err)
	}
	if n > 0 {
		s.invalidate(ctx, peerID, userID)
	}
	return n, nil
}

func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	gen, genErr := s.cache.UnreadGeneration(ctx, userID)
	if genErr != nil {
		log.Printf("cache unread generation failed user=%s err=%v", userID, genErr)
	} else if n, ok := s.cache.GetUnreadCount(ctx, userID, gen); ok {
		return n, nil
	}
	n, err := s.messageRepo.CountUnread(ctx, userID)
	if err != nil {
		return 0, storeError("count unread", err)
	}
	if genErr == nil {
		if err := s.cache.SetUnreadCount(ctx, userID, gen, n); err != nil {
			log.Printf("cache set unread failed user=%s err=%v", userID, err)
		}
	}
	return n, nil
}

func (s *MessageService) invalidate(ctx context.Context, senderID, receiverID string) {
	if err := s.cache.InvalidateConversation(ctx, senderID, receiverID); err != nil {
		log.Printf("cache invalidate conversation failed err=%v", err)
	}
	if err := s.cache.InvalidateUnreadCount(ctx, receiverID); err != nil {
		log.Printf("cache invalidate unread failed user=%s err=%v", receiverID, err)
	}
}
