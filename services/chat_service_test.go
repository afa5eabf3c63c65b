package services

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevinochieng254/giglink/models"
	"github.com/kevinochieng254/giglink/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("giglink_test"),
		postgres.WithUsername("giglink"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Printf("failed to start container: %s", err)
		return
	}

	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	if err != nil {
		log.Fatalf("failed to get connection string: %v", err)
	}

	testDB, err = gorm.Open(gormpg.Open(connStr), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	err = testDB.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Proposal{},
		&models.Conversation{},
		&models.Message{},
	)
	if err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	os.Exit(m.Run())
}

func resetTables(t *testing.T) {
	t.Cleanup(func() {
		err := testDB.Exec(`TRUNCATE TABLE messages, conversations, proposals, jobs, users CASCADE`).Error
		require.NoError(t, err)
	})
}

type fakePresence struct {
	online map[uuid.UUID]*PresenceEntry
}

func (f *fakePresence) Get(_ context.Context, userID uuid.UUID) (*PresenceEntry, error) {
	return f.online[userID], nil
}

func (f *fakePresence) setOnline(userID uuid.UUID) {
	f.online[userID] = &PresenceEntry{SocketID: uuid.NewString(), LastSeen: time.Now().Unix()}
}

type fakeRooms struct {
	members map[string]map[uuid.UUID]bool
}

func (f *fakeRooms) UserInRoom(room string, userID uuid.UUID) bool {
	return f.members[room][userID]
}

func (f *fakeRooms) Join(room string, c *websocket.Client) {
	if f.members[room] == nil {
		f.members[room] = make(map[uuid.UUID]bool)
	}
	f.members[room][c.UserID] = true
}

func (f *fakeRooms) Leave(room string, c *websocket.Client) {
	delete(f.members[room], c.UserID)
}

type emittedEvent struct {
	room   string
	userID uuid.UUID
	event  string
	data   map[string]interface{}
}

type fakeEmitter struct {
	events []emittedEvent
}

func (f *fakeEmitter) EmitToRoom(_ context.Context, room, event string, data interface{}) error {
	f.events = append(f.events, emittedEvent{room: room, event: event, data: data.(map[string]interface{})})
	return nil
}

func (f *fakeEmitter) EmitToUser(_ context.Context, userID uuid.UUID, event string, data interface{}) error {
	f.events = append(f.events, emittedEvent{userID: userID, event: event, data: data.(map[string]interface{})})
	return nil
}

func (f *fakeEmitter) byEvent(event string) []emittedEvent {
	var matched []emittedEvent
	for _, e := range f.events {
		if e.event == event {
			matched = append(matched, e)
		}
	}
	return matched
}

type chatHarness struct {
	svc      *ChatService
	cache    *ConversationCache
	presence *fakePresence
	rooms    *fakeRooms
	emits    *fakeEmitter
	alice    models.User
	bob      models.User
	conv     models.Conversation
}

func createTestUser(t *testing.T, name string) models.User {
	t.Helper()
	user := models.User{
		FullName: name,
		Email:    uuid.NewString() + "@example.com",
		Password: "not-a-real-hash",
		Role:     "client",
	}
	require.NoError(t, testDB.Create(&user).Error)
	return user
}

func newChatHarnessWithLimiter(t *testing.T, limiter admission) *chatHarness {
	t.Helper()
	resetTables(t)

	alice := createTestUser(t, "Alice Wanjiru")
	bob := createTestUser(t, "Bob Otieno")

	proposalID := uuid.New()
	conv := models.Conversation{
		ProposalID:       &proposalID,
		ParticipantOneID: alice.ID,
		ParticipantTwoID: bob.ID,
	}
	require.NoError(t, testDB.Create(&conv).Error)

	presence := &fakePresence{online: make(map[uuid.UUID]*PresenceEntry)}
	rooms := &fakeRooms{members: make(map[string]map[uuid.UUID]bool)}
	emits := &fakeEmitter{}
	cache := NewConversationCache(newMemoryKV(), NewGormConversationLoader(testDB))

	return &chatHarness{
		svc:      NewChatService(testDB, cache, presence, rooms, limiter, emits),
		cache:    cache,
		presence: presence,
		rooms:    rooms,
		emits:    emits,
		alice:    alice,
		bob:      bob,
		conv:     conv,
	}
}

func newChatHarness(t *testing.T) *chatHarness {
	t.Helper()
	now := time.Now()
	return newChatHarnessWithLimiter(t, newTestLimiter(nil, &now))
}

func (h *chatHarness) room() string {
	return websocket.ConversationRoom(h.conv.ID.String())
}

func (h *chatHarness) reloadConv(t *testing.T) models.Conversation {
	t.Helper()
	var conv models.Conversation
	require.NoError(t, testDB.First(&conv, "id = ?", h.conv.ID).Error)
	return conv
}

func TestSendMessageToOfflineRecipient(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	msg, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "hello bob",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Nil(t, msg.DeliveredAt)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	assert.Equal(t, h.alice.FullName, msg.Sender.FullName)

	conv := h.reloadConv(t)
	assert.Equal(t, 1, conv.UnreadFor(h.bob.ID))
	assert.Equal(t, 0, conv.UnreadFor(h.alice.ID))
	require.NotNil(t, conv.LastMessage())
	assert.Equal(t, "hello bob", conv.LastMessage().Content)

	require.Len(t, h.emits.byEvent(websocket.EventNewMessage), 1)
	assert.Equal(t, h.room(), h.emits.byEvent(websocket.EventNewMessage)[0].room)

	assert.Empty(t, h.emits.byEvent(websocket.EventMessageDelivered))

	updates := h.emits.byEvent(websocket.EventConversationUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, h.bob.ID, updates[0].userID)
	assert.Equal(t, 1, updates[0].data["unread_count"])
}

func TestSendMessageToRecipientInRoom(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	h.presence.setOnline(h.bob.ID)
	h.rooms.Join(h.room(), websocket.NewClient(h.bob.ID, nil))

	msg, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "you there?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	require.NotNil(t, msg.DeliveredAt)

	delivered := h.emits.byEvent(websocket.EventMessageDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, h.alice.ID, delivered[0].userID)
	assert.Equal(t, msg.ID, delivered[0].data["message_id"])
}

func TestSendMessageOnlineButNotInRoom(t *testing.T) {
	h := newChatHarness(t)

	// Connected somewhere in the app, but not looking at this thread.
	h.presence.setOnline(h.bob.ID)

	msg, err := h.svc.SendMessage(context.Background(), h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "ping",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Empty(t, h.emits.byEvent(websocket.EventMessageDelivered))
}

func TestJoinConversationDeliversBacklog(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
			ConversationID: h.conv.ID.String(),
			Content:        content,
		})
		require.NoError(t, err)
	}

	updated, err := h.svc.JoinConversation(ctx, h.bob.ID, h.conv.ID.String(), websocket.NewClient(h.bob.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.True(t, h.rooms.UserInRoom(h.room(), h.bob.ID))

	var remaining int64
	require.NoError(t, testDB.Model(&models.Message{}).
		Where("conversation_id = ? AND status = ?", h.conv.ID, models.MessageStatusSent).
		Count(&remaining).Error)
	assert.Zero(t, remaining)

	bulk := h.emits.byEvent(websocket.EventMessagesDelivered)
	require.Len(t, bulk, 1)
	assert.Equal(t, h.alice.ID, bulk[0].userID)
	assert.Equal(t, int64(3), bulk[0].data["count"])

	// Re-joining with nothing pending advances nothing and stays quiet.
	updated, err = h.svc.JoinConversation(ctx, h.bob.ID, h.conv.ID.String(), nil)
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Len(t, h.emits.byEvent(websocket.EventMessagesDelivered), 1)
}

func TestMarkAsReadWithCursor(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	var msgs []models.Message
	for i := 0; i < 4; i++ {
		msg := models.Message{
			ConversationID: h.conv.ID,
			SenderID:       h.alice.ID,
			Content:        "backlog",
			MessageType:    models.MessageTypeText,
			Status:         models.MessageStatusSent,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, testDB.Create(&msg).Error)
		msgs = append(msgs, msg)
	}

	ids, readAt, err := h.svc.MarkAsRead(ctx, h.bob.ID, &websocket.MarkAsReadPayload{
		ConversationID: h.conv.ID.String(),
		MessageID:      msgs[1].ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []uuid.UUID{msgs[0].ID, msgs[1].ID}, ids)
	assert.False(t, readAt.IsZero())

	var readCount int64
	require.NoError(t, testDB.Model(&models.Message{}).
		Where("conversation_id = ? AND is_read = ?", h.conv.ID, true).
		Count(&readCount).Error)
	assert.Equal(t, int64(2), readCount)

	var after models.Message
	require.NoError(t, testDB.First(&after, "id = ?", msgs[3].ID).Error)
	assert.Equal(t, models.MessageStatusSent, after.Status)
	assert.Nil(t, after.ReadAt)

	reads := h.emits.byEvent(websocket.EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, h.alice.ID, reads[0].userID)
	assert.Equal(t, h.bob.ID, reads[0].data["read_by"])
}

func TestMarkAsReadIdempotent(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	_, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "read me",
	})
	require.NoError(t, err)

	ids, _, err := h.svc.MarkAsRead(ctx, h.bob.ID, &websocket.MarkAsReadPayload{ConversationID: h.conv.ID.String()})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	conv := h.reloadConv(t)
	assert.Zero(t, conv.UnreadFor(h.bob.ID))

	// Second pass finds nothing unread and emits nothing new.
	ids, _, err = h.svc.MarkAsRead(ctx, h.bob.ID, &websocket.MarkAsReadPayload{ConversationID: h.conv.ID.String()})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, h.emits.byEvent(websocket.EventMessagesRead), 1)
}

func TestMarkAsReadUnknownCursor(t *testing.T) {
	h := newChatHarness(t)

	_, _, err := h.svc.MarkAsRead(context.Background(), h.bob.ID, &websocket.MarkAsReadPayload{
		ConversationID: h.conv.ID.String(),
		MessageID:      uuid.NewString(),
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReadMessagesNeverRegress(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	_, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "final state",
	})
	require.NoError(t, err)

	ids, _, err := h.svc.MarkAsRead(ctx, h.bob.ID, &websocket.MarkAsReadPayload{ConversationID: h.conv.ID.String()})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// A later join only advances sent rows; read rows keep their state.
	updated, err := h.svc.JoinConversation(ctx, h.bob.ID, h.conv.ID.String(), nil)
	require.NoError(t, err)
	assert.Zero(t, updated)

	var msg models.Message
	require.NoError(t, testDB.First(&msg, "id = ?", ids[0]).Error)
	assert.Equal(t, models.MessageStatusRead, msg.Status)
	assert.True(t, msg.IsRead)
}

func TestSendMessageRateLimited(t *testing.T) {
	limiter := &RateLimiter{
		store: newMemorySlidingStore(),
		rules: map[string]Rule{websocket.EventSendMessage: {Limit: 15, Window: 10 * time.Second}},
		now:   time.Now,
	}
	h := newChatHarnessWithLimiter(t, limiter)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
			ConversationID: h.conv.ID.String(),
			Content:        "burst",
		})
		require.NoError(t, err)
	}

	_, err := h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "one too many",
	})

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, websocket.EventSendMessage, rle.Operation)
	assert.GreaterOrEqual(t, rle.RetryAfterSeconds(), 1)

	// The denied send never reached the store.
	var count int64
	require.NoError(t, testDB.Model(&models.Message{}).Where("conversation_id = ?", h.conv.ID).Count(&count).Error)
	assert.Equal(t, int64(15), count)
}

func TestTypingSwallowsRateLimit(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(map[string]Rule{websocket.EventTyping: {Limit: 1, Window: 5 * time.Second}}, &now)
	h := newChatHarnessWithLimiter(t, limiter)
	ctx := context.Background()

	flag := true
	payload := &websocket.TypingPayload{ConversationID: h.conv.ID.String(), IsTyping: &flag}

	require.NoError(t, h.svc.Typing(ctx, h.alice.ID, payload))
	require.NoError(t, h.svc.Typing(ctx, h.alice.ID, payload))

	// Only the admitted indicator went out.
	assert.Len(t, h.emits.byEvent(websocket.EventUserTyping), 1)
}

func TestNonParticipantSeesNotFound(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	mallory := createTestUser(t, "Mallory Njeri")

	_, err := h.svc.SendMessage(ctx, mallory.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "let me in",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	// Indistinguishable from a conversation that does not exist.
	_, err = h.svc.SendMessage(ctx, mallory.ID, &websocket.SendMessagePayload{
		ConversationID: uuid.NewString(),
		Content:        "hello?",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, joinErr := h.svc.JoinConversation(ctx, mallory.ID, h.conv.ID.String(), nil)
	assert.ErrorIs(t, joinErr, ErrConversationNotFound)

	_, _, readErr := h.svc.MarkAsRead(ctx, mallory.ID, &websocket.MarkAsReadPayload{ConversationID: h.conv.ID.String()})
	assert.ErrorIs(t, readErr, ErrConversationNotFound)
}

func TestSendMessageRefreshesCachedView(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	// Warm the cache with the pristine view.
	view, err := h.cache.GetConversation(ctx, h.conv.ID)
	require.NoError(t, err)
	require.Nil(t, view.LastMessage)

	_, err = h.svc.SendMessage(ctx, h.alice.ID, &websocket.SendMessagePayload{
		ConversationID: h.conv.ID.String(),
		Content:        "fresh",
	})
	require.NoError(t, err)

	view, err = h.cache.GetConversation(ctx, h.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, view.LastMessage)
	assert.Equal(t, "fresh", view.LastMessage.Content)
	assert.Equal(t, 1, view.UnreadCount[h.bob.ID.String()])
}

func TestCreateConversationForProposal(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	proposal := &models.Proposal{
		ID:           uuid.New(),
		FreelancerID: h.bob.ID,
		Job:          models.Job{ClientID: h.alice.ID},
	}

	conv, created, err := h.svc.CreateConversationForProposal(ctx, proposal)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, conv)
	assert.True(t, conv.HasParticipant(h.alice.ID))
	assert.True(t, conv.HasParticipant(h.bob.ID))

	// Accepting the same proposal again returns the existing thread.
	again, created, err := h.svc.CreateConversationForProposal(ctx, proposal)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestCreateConversationRejectsInvalidParticipants(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.CreateConversationForProposal(ctx, &models.Proposal{
		ID:           uuid.New(),
		FreelancerID: h.alice.ID,
		Job:          models.Job{ClientID: h.alice.ID},
	})
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, _, err = h.svc.CreateConversationForProposal(ctx, &models.Proposal{
		ID:  uuid.New(),
		Job: models.Job{ClientID: h.alice.ID},
	})
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}
