package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a two-party thread between a client and a freelancer.
// The two participant columns make the exactly-two invariant structural,
// and the unique proposal index guarantees at most one conversation per
// accepted proposal.
type Conversation struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ProposalID *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"proposal_id"`

	ParticipantOneID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	ParticipantTwoID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`

	ParticipantOne User `gorm:"foreignkey:ParticipantOneID" json:"-"`
	ParticipantTwo User `gorm:"foreignkey:ParticipantTwoID" json:"-"`

	LastMessageContent  *string    `gorm:"size:5000" json:"-"`
	LastMessageSenderID *uuid.UUID `gorm:"type:uuid" json:"-"`
	LastMessageAt       *time.Time `json:"-"`

	UnreadCountOne int `gorm:"not null;default:0" json:"-"`
	UnreadCountTwo int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastMessageSnapshot is the denormalized preview refreshed on every send.
type LastMessageSnapshot struct {
	Content   string    `json:"content"`
	SenderID  uuid.UUID `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantOneID == userID || c.ParticipantTwoID == userID
}

// OtherParticipant returns the counterparty of userID. Callers must have
// checked participancy first.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if c.ParticipantOneID == userID {
		return c.ParticipantTwoID
	}
	return c.ParticipantOneID
}

func (c *Conversation) ParticipantIDs() []uuid.UUID {
	return []uuid.UUID{c.ParticipantOneID, c.ParticipantTwoID}
}

func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	if c.ParticipantOneID == userID {
		return c.UnreadCountOne
	}
	return c.UnreadCountTwo
}

// UnreadCounts returns the per-participant counter map used on the wire.
func (c *Conversation) UnreadCounts() map[string]int {
	return map[string]int{
		c.ParticipantOneID.String(): c.UnreadCountOne,
		c.ParticipantTwoID.String(): c.UnreadCountTwo,
	}
}

// UnreadColumn maps a participant to its counter column, for atomic
// increments and resets inside transactions.
func (c *Conversation) UnreadColumn(userID uuid.UUID) string {
	if c.ParticipantOneID == userID {
		return "unread_count_one"
	}
	return "unread_count_two"
}

func (c *Conversation) LastMessage() *LastMessageSnapshot {
	if c.LastMessageContent == nil || c.LastMessageSenderID == nil || c.LastMessageAt == nil {
		return nil
	}
	return &LastMessageSnapshot{
		Content:   *c.LastMessageContent,
		SenderID:  *c.LastMessageSenderID,
		Timestamp: *c.LastMessageAt,
	}
}

// ConversationView is the hydrated shape served to clients and stored in
// the read-through cache.
type ConversationView struct {
	ID           uuid.UUID            `json:"id"`
	ProposalID   *uuid.UUID           `json:"proposal_id,omitempty"`
	Participants []PublicUser         `json:"participants"`
	LastMessage  *LastMessageSnapshot `json:"last_message,omitempty"`
	UnreadCount  map[string]int       `json:"unread_count"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (c *Conversation) View() *ConversationView {
	return &ConversationView{
		ID:           c.ID,
		ProposalID:   c.ProposalID,
		Participants: []PublicUser{c.ParticipantOne.Public(), c.ParticipantTwo.Public()},
		LastMessage:  c.LastMessage(),
		UnreadCount:  c.UnreadCounts(),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
