package repository

import (
	"context"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/models"
)

// UserRepositoryInterface defines the contract for user repository operations
type UserRepositoryInterface interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	FindByPhones(ctx context.Context, phones []string) ([]models.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, user *models.User) error
	SetOnline(ctx context.Context, userID string, isOnline bool) error
	UpdateLastActive(ctx context.Context, userID string, at time.Time) error
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
}

// MessageRepositoryInterface is the durable message store.
type MessageRepositoryInterface interface {
	Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	FindByID(ctx context.Context, id string) (*models.Message, error)
	Range(ctx context.Context, userID, otherUserID string, limit int, before *time.Time) ([]models.Message, error)
	Page(ctx context.Context, userID, otherUserID string, limit int, before *Cursor) ([]models.Message, error)
	SetRead(ctx context.Context, id string, at time.Time) (*models.Message, bool, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	CountUnreadFrom(ctx context.Context, userID, peerID string) (int64, error)
	MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error)
	LastBetween(ctx context.Context, userID, peerID string) (*models.Message, error)
	ListSenderIDs(ctx context.Context, receiverID string) ([]string, error)
}

// OTPRepositoryInterface defines the contract for one-time code storage
type OTPRepositoryInterface interface {
	Create(ctx context.Context, otp *models.OTP) error
	InvalidateOutstanding(ctx context.Context, phone string) error
	FindLatestActive(ctx context.Context, phone string, now time.Time) (*models.OTP, error)
	IncrementAttempts(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) (bool, error)
}

// RefreshTokenRepositoryInterface defines the contract for refresh token repository operations
type RefreshTokenRepositoryInterface interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindValidByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeByHash(ctx context.Context, tokenHash string) (bool, error)
}
