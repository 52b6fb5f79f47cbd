// Package cache holds the redis-backed read model for aggregated
// conversation lists. The store stays the system of record; a cache
// failure only costs a re-aggregation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/logger"
	"github.com/theraline/theraline/internal/models"
)

var log = logger.New("cache")

// ConversationCache caches per-user conversation summaries with a short
// TTL. Writers invalidate both participants on send and mark-read.
type ConversationCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to redis and verifies the connection.
func New(addr, password string, db int, ttl time.Duration) (*ConversationCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &ConversationCache{rdb: rdb, ttl: ttl}, nil
}

func conversationsKey(userID uuid.UUID) string {
	return "conversations:" + userID.String()
}

// GetConversations returns the cached summary list for a user, if any.
func (c *ConversationCache) GetConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, bool) {
	data, err := c.rdb.Get(ctx, conversationsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn("redis get failed for %s: %v", userID, err)
		return nil, false
	}

	var conversations []*models.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		log.Warn("corrupt cache entry for %s: %v", userID, err)
		c.rdb.Del(ctx, conversationsKey(userID))
		return nil, false
	}

	return conversations, true
}

// SetConversations stores a freshly aggregated list.
func (c *ConversationCache) SetConversations(ctx context.Context, userID uuid.UUID, conversations []*models.Conversation) {
	data, err := json.Marshal(conversations)
	if err != nil {
		log.Error("failed to marshal conversations for %s: %v", userID, err)
		return
	}

	if err := c.rdb.Set(ctx, conversationsKey(userID), data, c.ttl).Err(); err != nil {
		log.Warn("redis set failed for %s: %v", userID, err)
	}
}

// Invalidate drops the cached lists for the given users.
func (c *ConversationCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, conversationsKey(id))
	}
	if len(keys) == 0 {
		return
	}

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warn("redis del failed: %v", err)
	}
}

// Close releases the redis connection.
func (c *ConversationCache) Close() error {
	return c.rdb.Close()
}
