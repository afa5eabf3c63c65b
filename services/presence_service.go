package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const presenceKey = "chat:presence"

// PresenceEntry records a user's active socket. Entries are advisory and
// last-write-wins: message integrity never depends on them, only the initial
// delivered-vs-sent decision does.
type PresenceEntry struct {
	SocketID string `json:"socket_id"`
	LastSeen int64  `json:"last_seen"`
}

// presenceStore is the hash behind the registry. The Redis implementation
// shares it cluster-wide.
type presenceStore interface {
	Set(ctx context.Context, userID, entry string) error
	// Get reports the stored entry and whether one exists.
	Get(ctx context.Context, userID string) (string, bool, error)
	Del(ctx context.Context, userID string) error
	All(ctx context.Context) (map[string]string, error)
}

type redisPresenceStore struct {
	rdb *redis.Client
}

func (s *redisPresenceStore) Set(ctx context.Context, userID, entry string) error {
	return s.rdb.HSet(ctx, presenceKey, userID, entry).Err()
}

func (s *redisPresenceStore) Get(ctx context.Context, userID string) (string, bool, error) {
	raw, err := s.rdb.HGet(ctx, presenceKey, userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func (s *redisPresenceStore) Del(ctx context.Context, userID string) error {
	return s.rdb.HDel(ctx, presenceKey, userID).Err()
}

func (s *redisPresenceStore) All(ctx context.Context) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, presenceKey).Result()
}

// Presence is the cluster-wide registry of connected users, backed by a
// Redis hash so every process sees the same view.
type Presence struct {
	store presenceStore
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{store: &redisPresenceStore{rdb: rdb}}
}

// Add registers the socket as the user's current one, replacing whatever was
// there before.
func (p *Presence) Add(ctx context.Context, userID uuid.UUID, socketID string) error {
	entry, err := json.Marshal(PresenceEntry{SocketID: socketID, LastSeen: time.Now().Unix()})
	if err != nil {
		return err
	}
	return p.store.Set(ctx, userID.String(), string(entry))
}

// Remove deletes the user's entry, but only while socketID still owns it.
// A disconnecting socket races the cleanup of the connection that replaced
// it; when the entry already belongs to a newer socket the user is still
// online and nothing is removed. Reports whether the entry was deleted.
func (p *Presence) Remove(ctx context.Context, userID uuid.UUID, socketID string) (bool, error) {
	raw, ok, err := p.store.Get(ctx, userID.String())
	if err != nil || !ok {
		return false, err
	}

	var entry PresenceEntry
	if err := json.Unmarshal([]byte(raw), &entry); err == nil {
		if socketID != "" && entry.SocketID != socketID {
			return false, nil
		}
	}

	if err := p.store.Del(ctx, userID.String()); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the presence entry for userID, or nil when the user is
// offline.
func (p *Presence) Get(ctx context.Context, userID uuid.UUID) (*PresenceEntry, error) {
	raw, ok, err := p.store.Get(ctx, userID.String())
	if err != nil || !ok {
		return nil, err
	}
	var entry PresenceEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (p *Presence) ListAll(ctx context.Context) ([]uuid.UUID, error) {
	all, err := p.store.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(all))
	for k := range all {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Touch refreshes the heartbeat timestamp for userID. A missing entry is
// left missing: the user may have disconnected in between.
func (p *Presence) Touch(ctx context.Context, userID uuid.UUID) error {
	entry, err := p.Get(ctx, userID)
	if err != nil || entry == nil {
		return err
	}
	entry.LastSeen = time.Now().Unix()
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, userID.String(), string(raw))
}

// SweepStale removes entries whose heartbeat is older than maxAge and
// returns the affected users. Crashed processes never get to call Remove;
// this is their cleanup path.
func (p *Presence) SweepStale(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error) {
	all, err := p.store.All(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	var removed []uuid.UUID
	for key, raw := range all {
		var entry PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.LastSeen < cutoff {
			if delErr := p.store.Del(ctx, key); delErr != nil {
				return removed, delErr
			}
			if id, parseErr := uuid.Parse(key); parseErr == nil {
				removed = append(removed, id)
			}
		}
	}
	return removed, nil
}
