package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
)

// Proposal is a freelancer's bid on a job. Accepting one is the only event
// that opens a conversation between the client and the freelancer.
type Proposal struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	FreelancerID uuid.UUID `gorm:"type:uuid;not null;index" json:"freelancer_id"`
	CoverLetter  string    `gorm:"type:text;not null" json:"cover_letter"`
	BidAmount    float64   `gorm:"type:numeric(10,2);not null" json:"bid_amount"`
	Status       string    `gorm:"size:20;not null;default:'pending'" json:"status"`

	Job        Job  `gorm:"foreignkey:JobID" json:"job,omitempty"`
	Freelancer User `gorm:"foreignkey:FreelancerID" json:"freelancer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
