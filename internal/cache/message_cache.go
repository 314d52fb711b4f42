package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL constants for different cache types
const (
	ConversationTTL = 5 * time.Minute
	UnreadCountTTL  = 1 * time.Minute
	GenerationTTL   = 24 * time.Hour
)

// MessageCache caches the newest page of each conversation and per-user
// unread totals. A nil *MessageCache is valid and always misses.
//
// Entries are keyed by a generation counter. Invalidation bumps the counter
// instead of deleting the entry, so a reader that loaded rows before the bump
// can only write under a generation nobody reads anymore.
type MessageCache struct {
	redis *RedisCache
}

// NewMessageCache creates a new message cache
func NewMessageCache(redis *RedisCache) *MessageCache {
	return &MessageCache{redis: redis}
}

// conversationKey is symmetric in its arguments.
func conversationKey(userID1, userID2 string) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return "conv:" + userID1 + ":" + userID2
}

func unreadKey(userID string) string {
	return "unread:" + userID
}

func genKey(key string) string {
	return key + ":gen"
}

func entryKey(key string, gen int64) string {
	return key + ":" + strconv.FormatInt(gen, 10)
}

// ConversationGeneration must be read before loading the rows that will be
// cached under it.
func (mc *MessageCache) ConversationGeneration(ctx context.Context, userID1, userID2 string) (int64, error) {
	if mc == nil || mc.redis == nil {
		return 0, nil
	}
	return mc.redis.Counter(ctx, genKey(conversationKey(userID1, userID2)))
}

// GetConversation retrieves the cached first page of a conversation
func (mc *MessageCache) GetConversation(ctx context.Context, userID1, userID2 string, gen int64) ([]models.Message, bool) {
	if mc == nil || mc.redis == nil {
		return nil, false
	}
	data, err := mc.redis.Get(ctx, entryKey(conversationKey(userID1, userID2), gen))
	if err != nil || data == nil {
		return nil, false
	}

	var messages []models.Message
	if err := msgpack.Unmarshal(data, &messages); err != nil {
		return nil, false
	}
	return messages, true
}

func (mc *MessageCache) SetConversation(ctx context.Context, userID1, userID2 string, gen int64, messages []models.Message) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return err
	}
	return mc.redis.Set(ctx, entryKey(conversationKey(userID1, userID2), gen), data, ConversationTTL)
}

func (mc *MessageCache) InvalidateConversation(ctx context.Context, userID1, userID2 string) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	_, err := mc.redis.Incr(ctx, genKey(conversationKey(userID1, userID2)), GenerationTTL)
	return err
}

func (mc *MessageCache) UnreadGeneration(ctx context.Context, userID string) (int64, error) {
	if mc == nil || mc.redis == nil {
		return 0, nil
	}
	return mc.redis.Counter(ctx, genKey(unreadKey(userID)))
}

func (mc *MessageCache) GetUnreadCount(ctx context.Context, userID string, gen int64) (int64, bool) {
	if mc == nil || mc.redis == nil {
		return 0, false
	}
	data, err := mc.redis.Get(ctx, entryKey(unreadKey(userID), gen))
	if err != nil || data == nil {
		return 0, false
	}
	var count int64
	if err := msgpack.Unmarshal(data, &count); err != nil {
		return 0, false
	}
	return count, true
}

func (mc *MessageCache) SetUnreadCount(ctx context.Context, userID string, gen int64, count int64) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(count)
	if err != nil {
		return err
	}
	return mc.redis.Set(ctx, entryKey(unreadKey(userID), gen), data, UnreadCountTTL)
}

func (mc *MessageCache) InvalidateUnreadCount(ctx context.Context, userID string) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	_, err := mc.redis.Incr(ctx, genKey(unreadKey(userID)), GenerationTTL)
	return err
}
