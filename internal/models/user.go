package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values assigned to users.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User describes a chat participant.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	Role   string `gorm:"default:user" json:"role"`
	Avatar string `json:"avatar"`

	IsBanned       bool       `gorm:"default:false" json:"is_banned"`
	BanReason      string     `json:"ban_reason,omitempty"`
	IsPermanentBan bool       `gorm:"default:false" json:"is_permanent_ban"`
	BanExpiresAt   *time.Time `json:"ban_expires_at,omitempty"`

	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastActiveAt *time.Time `json:"last_active_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// BanActive reports whether the ban still applies at the supplied instant.
// Permanent bans never lapse; temporary bans lapse once BanExpiresAt passes.
func (u *User) BanActive(now time.Time) bool {
	if !u.IsBanned {
		return false
	}
	if u.IsPermanentBan {
		return true
	}
	return u.BanExpiresAt != nil && u.BanExpiresAt.After(now)
}
