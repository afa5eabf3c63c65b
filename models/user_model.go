package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	FullName string    `gorm:"size:255;not null" json:"full_name"`
	Email    string    `gorm:"size:255;not null;unique" json:"email"`
	Password string    `gorm:"not null" json:"-"`
	Role     string    `gorm:"size:20;not null;default:'client'" json:"role"`

	ProfilePictureURL *string `gorm:"size:255" json:"profile_picture_url"`
	Headline          *string `gorm:"size:255" json:"headline"`
	IsActive          bool    `gorm:"default:true" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicUser is the participant shape embedded in hydrated conversations
// and message payloads.
type PublicUser struct {
	ID                uuid.UUID `json:"id"`
	FullName          string    `json:"full_name"`
	Role              string    `json:"role"`
	ProfilePictureURL *string   `json:"profile_picture_url"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:                u.ID,
		FullName:          u.FullName,
		Role:              u.Role,
		ProfilePictureURL: u.ProfilePictureURL,
	}
}
