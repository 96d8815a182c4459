package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"careerpilot/internal/models"
	"careerpilot/internal/redis"
)

const (
	redisInvalidateChannel = "runtime:invalidate"
	redisStateTTL          = 30 * time.Minute
)

const (
	scopeUser = "user"
	scopeChat = "chat"
)

// invalidateMessage fans out across instances so every process drops its
// in-memory copy of the named state.
type invalidateMessage struct {
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Scope  string `json:"scope"`
}

type stateCache struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateCache {
	return &stateCache{client: client}
}

func (c *stateCache) startListener(handler func(invalidateMessage)) {
	if c == nil || c.client == nil || handler == nil {
		return
	}
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, redisInvalidateChannel)
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				log.Printf("runtime invalidation decode failed: %v", err)
				continue
			}
			handler(inv)
		}
	}()
}

func (c *stateCache) publishInvalidation(msg invalidateMessage) {
	if c == nil || c.client == nil {
		return
	}
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("runtime invalidation marshal failed: %v", err)
		return
	}
	if err := raw.Publish(context.Background(), redisInvalidateChannel, payload).Err(); err != nil {
		log.Printf("runtime publish invalidation failed: %v", err)
	}
}

func (c *stateCache) cacheChat(chat *models.Chat, history []*models.Message) {
	if c == nil || c.client == nil || chat == nil || chat.ID <= 0 {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(chat)
	if err == nil {
		key := fmt.Sprintf("runtime:chat:%d", chat.ID)
		if err := c.client.Set(ctx, key, data, redisStateTTL); err != nil {
			log.Printf("runtime cache chat failed: %v", err)
		}
	}
	c.cacheHistory(chat.ID, history)
}

func (c *stateCache) cacheHistory(chatID int64, history []*models.Message) {
	if c == nil || c.client == nil || chatID <= 0 {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("runtime history marshal failed: %v", err)
		return
	}
	key := fmt.Sprintf("runtime:history:%d", chatID)
	if err := c.client.Set(context.Background(), key, data, redisStateTTL); err != nil {
		log.Printf("runtime cache history failed: %v", err)
	}
}

func (c *stateCache) loadChat(userID, chatID int64) (*models.Chat, []*models.Message, bool) {
	if c == nil || c.client == nil || chatID <= 0 {
		return nil, nil, false
	}
	ctx := context.Background()
	rawChat, err := c.client.Get(ctx, fmt.Sprintf("runtime:chat:%d", chatID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("runtime load chat failed: %v", err)
		}
		return nil, nil, false
	}
	var chat models.Chat
	if err := json.Unmarshal([]byte(rawChat), &chat); err != nil {
		log.Printf("runtime decode chat failed: %v", err)
		return nil, nil, false
	}
	if chat.UserID != userID {
		return nil, nil, false
	}

	var history []*models.Message
	rawHistory, err := c.client.Get(ctx, fmt.Sprintf("runtime:history:%d", chatID))
	if err == nil {
		if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
			log.Printf("runtime decode history failed: %v", err)
			history = nil
		}
	} else if err != redis.ErrCacheMiss {
		log.Printf("runtime load history failed: %v", err)
	}
	return &chat, history, true
}

func (c *stateCache) invalidateChat(chatID int64) {
	if c == nil || c.client == nil || chatID <= 0 {
		return
	}
	chatKey := fmt.Sprintf("runtime:chat:%d", chatID)
	historyKey := fmt.Sprintf("runtime:history:%d", chatID)
	if err := c.client.Del(context.Background(), chatKey, historyKey); err != nil && err != redis.ErrCacheMiss {
		log.Printf("runtime invalidate chat failed: %v", err)
	}
}
