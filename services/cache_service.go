package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kevinochieng254/giglink/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const conversationCacheTTL = time.Hour

// ErrCacheMiss distinguishes an absent key from a backend failure.
var ErrCacheMiss = errors.New("cache: miss")

// KV is the minimal cache contract. The Redis implementation maps redis.Nil
// to ErrCacheMiss; any other error means the backend is unhealthy and the
// caller falls back to the durable store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	res, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	return res, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// conversationLoader hydrates conversations straight from the durable
// store. It is both the miss path and the degraded path.
type conversationLoader interface {
	LoadConversation(ctx context.Context, id uuid.UUID) (*models.ConversationView, error)
	LoadConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type GormConversationLoader struct {
	db *gorm.DB
}

func NewGormConversationLoader(db *gorm.DB) *GormConversationLoader {
	return &GormConversationLoader{db: db}
}

func (l *GormConversationLoader) LoadConversation(ctx context.Context, id uuid.UUID) (*models.ConversationView, error) {
	var conv models.Conversation
	err := l.db.WithContext(ctx).
		Preload("ParticipantOne").
		Preload("ParticipantTwo").
		Where("id = ?", id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv.View(), nil
}

func (l *GormConversationLoader) LoadConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := l.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("participant_one_id = ? OR participant_two_id = ?", userID, userID).
		Order("updated_at desc").
		Pluck("id", &ids).Error
	return ids, err
}

// ConversationCache is the read-through cache of hydrated conversations.
// It is never the source of truth: every mutation deletes the affected
// keys, and a broken backend degrades to direct store reads.
type ConversationCache struct {
	kv     KV
	loader conversationLoader
}

func NewConversationCache(kv KV, loader conversationLoader) *ConversationCache {
	return &ConversationCache{kv: kv, loader: loader}
}

func conversationKey(id uuid.UUID) string {
	return "chat:conversation:" + id.String()
}

func conversationListKey(userID uuid.UUID) string {
	return "chat:conversations:" + userID.String()
}

// GetConversation returns the hydrated conversation, or nil when it does
// not exist.
func (c *ConversationCache) GetConversation(ctx context.Context, id uuid.UUID) (*models.ConversationView, error) {
	raw, err := c.kv.Get(ctx, conversationKey(id))
	if err == nil {
		var view models.ConversationView
		if jsonErr := json.Unmarshal([]byte(raw), &view); jsonErr == nil {
			return &view, nil
		}
		// Unreadable entry: treat as a miss and repopulate below.
	} else if !errors.Is(err, ErrCacheMiss) {
		log.Printf("Conversation cache read failed, falling back to store: %v", err)
		return c.loader.LoadConversation(ctx, id)
	}

	view, err := c.loader.LoadConversation(ctx, id)
	if err != nil || view == nil {
		return view, err
	}

	if encoded, jsonErr := json.Marshal(view); jsonErr == nil {
		if setErr := c.kv.Set(ctx, conversationKey(id), string(encoded), conversationCacheTTL); setErr != nil {
			log.Printf("Conversation cache populate failed: %v", setErr)
		}
	}
	return view, nil
}

// GetUserConversations pages through the user's conversations, newest
// activity first, resolving each id through the conversation cache.
func (c *ConversationCache) GetUserConversations(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*models.ConversationView, error) {
	ids, err := c.listIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return []*models.ConversationView{}, nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	views := make([]*models.ConversationView, 0, end-start)
	for _, id := range ids[start:end] {
		view, err := c.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if view != nil {
			views = append(views, view)
		}
	}
	return views, nil
}

// Invalidate deletes the conversation entry and every participant's list
// entry. Deletion, not refresh-in-place: the next reader rehydrates from
// the store. Backend failures are logged and absorbed.
func (c *ConversationCache) Invalidate(ctx context.Context, conversationID uuid.UUID, participantIDs ...uuid.UUID) {
	keys := []string{conversationKey(conversationID)}
	for _, id := range participantIDs {
		keys = append(keys, conversationListKey(id))
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		log.Printf("Conversation cache invalidation failed for %s: %v", conversationID, err)
	}
}

func (c *ConversationCache) listIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := c.kv.Get(ctx, conversationListKey(userID))
	if err == nil {
		var ids []uuid.UUID
		if jsonErr := json.Unmarshal([]byte(raw), &ids); jsonErr == nil {
			return ids, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		log.Printf("Conversation list cache read failed, falling back to store: %v", err)
		return c.loader.LoadConversationIDs(ctx, userID)
	}

	ids, err := c.loader.LoadConversationIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(ids); jsonErr == nil {
		if setErr := c.kv.Set(ctx, conversationListKey(userID), string(encoded), conversationCacheTTL); setErr != nil {
			log.Printf("Conversation list cache populate failed: %v", setErr)
		}
	}
	return ids, nil
}
