package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultRangeLimit = 50
	MaxRangeLimit     = 100
)

// clock hands out strictly increasing UTC timestamps at the precision the
// database keeps, so CreatedAt orders messages appended by this process.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

type MessageRepository struct {
	db    *gorm.DB
	clock *clock
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db, clock: &clock{now: time.Now}}
}

func (r *MessageRepository) Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  r.clock.next(),
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(message).Error; err != nil {
		return nil, err
	}
	return r.FindByID(ctx, message.ID)
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("id = ?", id).
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// Cursor is an exclusive paging bound in (created_at, id) order. An empty ID
// bounds on time alone.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Range returns the newest messages exchanged between two users, newest first.
func (r *MessageRepository) Range(ctx context.Context, userID, otherUserID string, limit int, before *time.Time) ([]models.Message, error) {
	if before == nil {
		return r.Page(ctx, userID, otherUserID, limit, nil)
	}
	return r.Page(ctx, userID, otherUserID, limit, &Cursor{CreatedAt: *before})
}

// Page is Range with a (created_at, id) bound, so rows sharing a timestamp
// across a page boundary are neither skipped nor repeated.
func (r *MessageRepository) Page(ctx context.Context, userID, otherUserID string, limit int, before *Cursor) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultRangeLimit
	}
	if limit > MaxRangeLimit {
		limit = MaxRangeLimit
	}

	q := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			userID, otherUserID, otherUserID, userID)
	switch {
	case before == nil:
	case before.ID == "":
		q = q.Where("created_at < ?", before.CreatedAt.UTC())
	default:
		at := before.CreatedAt.UTC()
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, before.ID)
	}

	var messages []models.Message
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// SetRead flips is_read once. transitioned reports whether this call made the change.
func (r *MessageRepository) SetRead(ctx context.Context, id string, at time.Time) (*models.Message, bool, error) {
	readAt := at.UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": readAt,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	message, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return message, res.RowsAffected == 1, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *MessageRepository) CountUnreadFrom(ctx context.Context, userID, peerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", userID, peerID, false).
		Count(&count).Error
	return count, err
}

// MarkConversationRead marks every unread message from peerID to userID as read.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", userID, peerID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// LastBetween returns nil without error when the two users never talked.
func (r *MessageRepository) LastBetween(ctx context.Context, userID, peerID string) (*models.Message, error) {
	messages, err := r.Range(ctx, userID, peerID, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (r *MessageRepository) ListSenderIDs(ctx context.Context, receiverID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ?", receiverID).
		Distinct("sender_id").
		Pluck("sender_id", &ids).Error
	return ids, err
}
