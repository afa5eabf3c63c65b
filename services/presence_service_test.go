package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPresenceStore struct {
	data map[string]string
}

func newMemoryPresenceStore() *memoryPresenceStore {
	return &memoryPresenceStore{data: make(map[string]string)}
}

func (s *memoryPresenceStore) Set(_ context.Context, userID, entry string) error {
	s.data[userID] = entry
	return nil
}

func (s *memoryPresenceStore) Get(_ context.Context, userID string) (string, bool, error) {
	raw, ok := s.data[userID]
	return raw, ok, nil
}

func (s *memoryPresenceStore) Del(_ context.Context, userID string) error {
	delete(s.data, userID)
	return nil
}

func (s *memoryPresenceStore) All(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func newTestPresence() (*Presence, *memoryPresenceStore) {
	store := newMemoryPresenceStore()
	return &Presence{store: store}, store
}

func TestPresenceRemoveScopedToOwningSocket(t *testing.T) {
	presence, _ := newTestPresence()
	ctx := context.Background()
	userID := uuid.New()

	// Reconnect: the new socket's entry replaces the old one, then the old
	// connection's teardown runs.
	require.NoError(t, presence.Add(ctx, userID, "socket-old"))
	require.NoError(t, presence.Add(ctx, userID, "socket-new"))

	removed, err := presence.Remove(ctx, userID, "socket-old")
	require.NoError(t, err)
	assert.False(t, removed, "stale socket must not wipe the replacement entry")

	entry, err := presence.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, entry, "user must still look online after the old socket's cleanup")
	assert.Equal(t, "socket-new", entry.SocketID)

	// The owning socket's own disconnect removes the entry.
	removed, err = presence.Remove(ctx, userID, "socket-new")
	require.NoError(t, err)
	assert.True(t, removed)

	entry, err = presence.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPresenceRemoveMissingEntry(t *testing.T) {
	presence, _ := newTestPresence()

	removed, err := presence.Remove(context.Background(), uuid.New(), "socket-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPresenceTouchRefreshesHeartbeat(t *testing.T) {
	presence, store := newTestPresence()
	ctx := context.Background()
	userID := uuid.New()

	stale, err := json.Marshal(PresenceEntry{SocketID: "socket-1", LastSeen: time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	store.data[userID.String()] = string(stale)

	require.NoError(t, presence.Touch(ctx, userID))

	entry, err := presence.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "socket-1", entry.SocketID)
	assert.GreaterOrEqual(t, entry.LastSeen, time.Now().Add(-time.Minute).Unix())
}

func TestPresenceTouchNeverResurrects(t *testing.T) {
	presence, store := newTestPresence()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, presence.Touch(ctx, userID))
	assert.Empty(t, store.data)
}

func TestPresenceSweepStale(t *testing.T) {
	presence, store := newTestPresence()
	ctx := context.Background()

	fresh := uuid.New()
	stale := uuid.New()
	require.NoError(t, presence.Add(ctx, fresh, "socket-fresh"))

	old, err := json.Marshal(PresenceEntry{SocketID: "socket-stale", LastSeen: time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	store.data[stale.String()] = string(old)
	store.data[uuid.NewString()] = "{corrupt"

	removed, err := presence.SweepStale(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, removed, stale)
	assert.NotContains(t, removed, fresh)

	entry, err := presence.Get(ctx, fresh)
	require.NoError(t, err)
	assert.NotNil(t, entry)

	entry, err = presence.Get(ctx, stale)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
