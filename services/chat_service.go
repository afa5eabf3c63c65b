package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kevinochieng254/giglink/models"
	"github.com/kevinochieng254/giglink/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConversationNotFound covers both a genuinely missing conversation and
// a non-participant caller. The two cases are deliberately indistinguishable
// so existence never leaks.
var ErrConversationNotFound = errors.New("conversation not found")

var ErrMessageNotFound = errors.New("message not found")

var ErrInvalidParticipants = errors.New("a conversation requires exactly two distinct participants")

type presenceReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*PresenceEntry, error)
}

type roomManager interface {
	UserInRoom(room string, userID uuid.UUID) bool
	Join(room string, client *websocket.Client)
	Leave(room string, client *websocket.Client)
}

type emitter interface {
	EmitToRoom(ctx context.Context, room, event string, data interface{}) error
	EmitToUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

type admission interface {
	Consume(ctx context.Context, userID uuid.UUID, operation string) error
}

type conversationStore interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.ConversationView, error)
	Invalidate(ctx context.Context, conversationID uuid.UUID, participantIDs ...uuid.UUID)
}

// ChatService orchestrates every conversation mutation: authorization via
// the cached view, admission control, the durable-store transaction, cache
// invalidation, and event fanout — in that order.
type ChatService struct {
	db       *gorm.DB
	cache    conversationStore
	presence presenceReader
	rooms    roomManager
	limiter  admission
	emit     emitter
}

func NewChatService(db *gorm.DB, cache conversationStore, presence presenceReader, rooms roomManager, limiter admission, emit emitter) *ChatService {
	return &ChatService{db: db, cache: cache, presence: presence, rooms: rooms, limiter: limiter, emit: emit}
}

// SendMessage persists one message and fans out the outcome.
//
// The recipient's online+in-room state is checked before the transaction so
// the row is created with its final initial status. The check is best
// effort: a presence flip inside that window is reconciled by the next
// join_conversation bulk delivery.
func (s *ChatService) SendMessage(ctx context.Context, senderID uuid.UUID, p *websocket.SendMessagePayload) (*models.Message, error) {
	if err := s.limiter.Consume(ctx, senderID, websocket.EventSendMessage); err != nil {
		return nil, err
	}

	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}

	view, err := s.cache.GetConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if view == nil || !viewHasParticipant(view, senderID) {
		return nil, ErrConversationNotFound
	}
	recipientID := viewOtherParticipant(view, senderID)

	room := websocket.ConversationRoom(convID.String())
	deliveredOnArrival := false
	if entry, presErr := s.presence.Get(ctx, recipientID); presErr != nil {
		log.Printf("Presence lookup failed for %s, assuming offline: %v", recipientID, presErr)
	} else if entry != nil && s.rooms.UserInRoom(room, recipientID) {
		deliveredOnArrival = true
	}

	now := time.Now()
	status := models.MessageStatusSent
	var deliveredAt *time.Time
	if deliveredOnArrival {
		status = models.MessageStatusDelivered
		deliveredAt = &now
	}

	messageType := p.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	var conv models.Conversation
	msg := models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        p.Content,
		MessageType:    messageType,
		FileURL:        optional(p.FileURL),
		FileName:       optional(p.FileName),
		Status:         status,
		DeliveredAt:    deliveredAt,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-verify authorization under the row lock; the lock also
		// serializes concurrent sends to the same conversation.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND (participant_one_id = ? OR participant_two_id = ?)", convID, senderID, senderID).
			First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		unreadColumn := conv.UnreadColumn(recipientID)
		return tx.Model(&models.Conversation{}).Where("id = ?", convID).Updates(map[string]interface{}{
			"last_message_content":   msg.Content,
			"last_message_sender_id": senderID,
			"last_message_at":        msg.CreatedAt,
			"updated_at":             msg.CreatedAt,
			unreadColumn:             gorm.Expr(unreadColumn + " + 1"),
		}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to send message: %w", txErr)
	}

	s.cache.Invalidate(ctx, convID, conv.ParticipantOneID, conv.ParticipantTwoID)

	if err := s.db.WithContext(ctx).First(&msg.Sender, "id = ?", senderID).Error; err != nil {
		log.Printf("Failed to hydrate sender %s on message %s: %v", senderID, msg.ID, err)
	}

	s.emitOrLog(s.emit.EmitToRoom(ctx, room, websocket.EventNewMessage, map[string]interface{}{
		"message":         &msg,
		"conversation_id": convID,
	}))

	if deliveredOnArrival {
		s.emitOrLog(s.emit.EmitToUser(ctx, senderID, websocket.EventMessageDelivered, map[string]interface{}{
			"message_id":      msg.ID,
			"conversation_id": convID,
			"delivered_at":    msg.DeliveredAt,
		}))
	}

	s.emitOrLog(s.emit.EmitToUser(ctx, recipientID, websocket.EventConversationUpdate, map[string]interface{}{
		"conversation_id": convID,
		"last_message": models.LastMessageSnapshot{
			Content:   msg.Content,
			SenderID:  senderID,
			Timestamp: msg.CreatedAt,
		},
		"unread_count": conv.UnreadFor(recipientID) + 1,
	}))

	return &msg, nil
}

// JoinConversation attaches the caller to the conversation room and models
// "recipient opened the thread" as a bulk delivery acknowledgement: every
// sent message from the other participant advances to delivered. Returns
// the number of messages advanced.
func (s *ChatService) JoinConversation(ctx context.Context, userID uuid.UUID, conversationID string, client *websocket.Client) (int64, error) {
	if err := s.limiter.Consume(ctx, userID, websocket.EventJoinConversation); err != nil {
		return 0, err
	}

	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return 0, ErrConversationNotFound
	}

	view, err := s.cache.GetConversation(ctx, convID)
	if err != nil {
		return 0, fmt.Errorf("failed to join conversation: %w", err)
	}
	if view == nil || !viewHasParticipant(view, userID) {
		return 0, ErrConversationNotFound
	}
	otherID := viewOtherParticipant(view, userID)

	room := websocket.ConversationRoom(convID.String())
	if client != nil {
		s.rooms.Join(room, client)
	}

	s.emitOrLog(s.emit.EmitToRoom(ctx, room, websocket.EventUserJoined, map[string]interface{}{
		"user_id":         userID,
		"conversation_id": convID,
	}))

	now := time.Now()
	var updated int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id = ? AND status = ?", convID, otherID, models.MessageStatusSent).
			Updates(map[string]interface{}{
				"status":       models.MessageStatusDelivered,
				"delivered_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected
		return nil
	})
	if txErr != nil {
		return 0, fmt.Errorf("failed to join conversation: %w", txErr)
	}

	s.cache.Invalidate(ctx, convID, viewParticipantIDs(view)...)

	if updated > 0 {
		s.emitOrLog(s.emit.EmitToUser(ctx, otherID, websocket.EventMessagesDelivered, map[string]interface{}{
			"conversation_id": convID,
			"count":           updated,
		}))
	}
	return updated, nil
}

// LeaveConversation detaches the caller from the room. No persistence.
func (s *ChatService) LeaveConversation(ctx context.Context, userID uuid.UUID, conversationID string, client *websocket.Client) {
	room := websocket.ConversationRoom(conversationID)
	if client != nil {
		s.rooms.Leave(room, client)
	}
	s.emitOrLog(s.emit.EmitToRoom(ctx, room, websocket.EventUserLeft, map[string]interface{}{
		"user_id":         userID,
		"conversation_id": conversationID,
	}))
}

// MarkAsRead flips the caller's unread messages to read and resets their
// counter. A message id acts as a cursor: only messages created at or
// before it are affected. Re-running is a no-op because the filter excludes
// already-read rows.
func (s *ChatService) MarkAsRead(ctx context.Context, userID uuid.UUID, p *websocket.MarkAsReadPayload) ([]uuid.UUID, time.Time, error) {
	if err := s.limiter.Consume(ctx, userID, websocket.EventMarkAsRead); err != nil {
		return nil, time.Time{}, err
	}

	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		return nil, time.Time{}, ErrConversationNotFound
	}

	view, err := s.cache.GetConversation(ctx, convID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to mark as read: %w", err)
	}
	if view == nil || !viewHasParticipant(view, userID) {
		return nil, time.Time{}, ErrConversationNotFound
	}

	now := time.Now()
	var conv models.Conversation
	var ids []uuid.UUID

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The cached view is a snapshot; the counter reset needs the live
		// row, fetched under lock.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", convID).
			First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		query := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", convID, userID, false)

		if p.MessageID != "" {
			var cursor models.Message
			err := tx.Where("id = ? AND conversation_id = ?", p.MessageID, convID).First(&cursor).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			if err != nil {
				return err
			}
			query = query.Where("created_at <= ?", cursor.CreatedAt)
		}

		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}

		if len(ids) > 0 {
			err := tx.Model(&models.Message{}).Where("id IN ?", ids).Updates(map[string]interface{}{
				"status":  models.MessageStatusRead,
				"is_read": true,
				"read_at": now,
			}).Error
			if err != nil {
				return err
			}
		}

		return tx.Model(&models.Conversation{}).Where("id = ?", convID).
			Update(conv.UnreadColumn(userID), 0).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrConversationNotFound) || errors.Is(txErr, ErrMessageNotFound) {
			return nil, time.Time{}, txErr
		}
		return nil, time.Time{}, fmt.Errorf("failed to mark as read: %w", txErr)
	}

	s.cache.Invalidate(ctx, convID, conv.ParticipantOneID, conv.ParticipantTwoID)

	if len(ids) > 0 {
		s.emitOrLog(s.emit.EmitToUser(ctx, conv.OtherParticipant(userID), websocket.EventMessagesRead, map[string]interface{}{
			"conversation_id": convID,
			"read_by":         userID,
			"message_ids":     ids,
			"read_at":         now,
		}))
	}
	return ids, now, nil
}

// Typing relays a typing indicator. Rate-limit violations are swallowed so
// a fast typist never sees error noise.
func (s *ChatService) Typing(ctx context.Context, userID uuid.UUID, p *websocket.TypingPayload) error {
	if err := s.limiter.Consume(ctx, userID, websocket.EventTyping); err != nil {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			return nil
		}
		return err
	}

	s.emitOrLog(s.emit.EmitToRoom(ctx, websocket.ConversationRoom(p.ConversationID), websocket.EventUserTyping, map[string]interface{}{
		"user_id":         userID,
		"conversation_id": p.ConversationID,
		"is_typing":       p.IsTyping != nil && *p.IsTyping,
	}))
	return nil
}

// CreateConversationForProposal opens the conversation between a job's
// client and the accepted freelancer. The unique proposal index makes the
// operation idempotent: losing the creation race returns the existing row
// instead of an error.
func (s *ChatService) CreateConversationForProposal(ctx context.Context, proposal *models.Proposal) (*models.Conversation, bool, error) {
	clientID := proposal.Job.ClientID
	freelancerID := proposal.FreelancerID
	if clientID == uuid.Nil || freelancerID == uuid.Nil || clientID == freelancerID {
		return nil, false, ErrInvalidParticipants
	}

	proposalID := proposal.ID
	conv := models.Conversation{
		ProposalID:       &proposalID,
		ParticipantOneID: clientID,
		ParticipantTwoID: freelancerID,
	}

	err := s.db.WithContext(ctx).Create(&conv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing models.Conversation
		if readErr := s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&existing).Error; readErr != nil {
			return nil, false, fmt.Errorf("failed to create conversation: %w", readErr)
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.cache.Invalidate(ctx, conv.ID, clientID, freelancerID)
	return &conv, true, nil
}

func (s *ChatService) emitOrLog(err error) {
	if err != nil {
		log.Printf("Event fanout failed: %v", err)
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func viewHasParticipant(view *models.ConversationView, userID uuid.UUID) bool {
	for _, p := range view.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func viewOtherParticipant(view *models.ConversationView, userID uuid.UUID) uuid.UUID {
	for _, p := range view.Participants {
		if p.ID != userID {
			return p.ID
		}
	}
	return uuid.Nil
}

func viewParticipantIDs(view *models.ConversationView) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(view.Participants))
	for _, p := range view.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}
