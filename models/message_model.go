package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

// Message content is immutable after creation; only status and its mirror
// fields (is_read, delivered_at, read_at) advance, and only forward:
// sent -> delivered -> read.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null" json:"sender_id"`
	Content        string    `gorm:"size:5000;not null" json:"content"`
	MessageType    string    `gorm:"size:10;not null;default:'text'" json:"message_type"`

	FileURL  *string `gorm:"size:2048" json:"file_url,omitempty"`
	FileName *string `gorm:"size:255" json:"file_name,omitempty"`

	Status      string     `gorm:"size:10;not null;default:'sent'" json:"status"`
	IsRead      bool       `gorm:"not null;default:false" json:"is_read"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`

	Sender User `gorm:"foreignkey:SenderID" json:"sender,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
