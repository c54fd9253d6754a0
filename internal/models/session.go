package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session records one authenticated device. Token rotation updates the same row
// in place; ExpiresAt is fixed at creation and never extended by activity.
type Session struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string `gorm:"type:uuid;not null;index" json:"user_id"`
	User         *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AccessToken  string `gorm:"uniqueIndex;not null" json:"-"`
	RefreshToken string `gorm:"uniqueIndex;not null" json:"-"`

	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	DeviceName string            `json:"device_name"`
	Claims     datatypes.JSONMap `json:"-"`

	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
