package cache

import (
	"context"
	"time"
)

const (
	OnlineUsersTTL = 90 * time.Second // Match pong timeout
	onlineSetKey   = "online:users"
)

// UserCache mirrors the hub's presence into Redis for other readers.
// A nil *UserCache is valid and does nothing.
type UserCache struct {
	redis *RedisCache
}

// NewUserCache creates a new user cache
func NewUserCache(redis *RedisCache) *UserCache {
	return &UserCache{redis: redis}
}

func onlineKey(userID string) string {
	return "online:" + userID
}

// SetUserOnline adds a user to the online users set
func (uc *UserCache) SetUserOnline(ctx context.Context, userID string) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	if err := uc.redis.SetAdd(ctx, onlineSetKey, userID); err != nil {
		return err
	}

	// Set individual user key with TTL for auto-expiration
	return uc.redis.Set(ctx, onlineKey(userID), []byte("1"), OnlineUsersTTL)
}

// SetUserOffline removes a user from the online users set
func (uc *UserCache) SetUserOffline(ctx context.Context, userID string) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	if err := uc.redis.SetRemove(ctx, onlineSetKey, userID); err != nil {
		return err
	}
	return uc.redis.Delete(ctx, onlineKey(userID))
}

// RefreshUserOnline extends the TTL for an online user
func (uc *UserCache) RefreshUserOnline(ctx context.Context, userID string) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	return uc.redis.Set(ctx, onlineKey(userID), []byte("1"), OnlineUsersTTL)
}

func (uc *UserCache) IsUserOnline(ctx context.Context, userID string) bool {
	if uc == nil || uc.redis == nil {
		return false
	}
	return uc.redis.Exists(ctx, onlineKey(userID))
}

// ResetOnline drops the mirror; called at startup since no session survives a restart.
func (uc *UserCache) ResetOnline(ctx context.Context) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	return uc.redis.Delete(ctx, onlineSetKey)
}
