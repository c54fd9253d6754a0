package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message types stored in MessageType.
const (
	MessageTypeText  = "text"
	MessageTypeVoice = "voice"
)

// Message is one direct message between two users. Rows are never destroyed by
// user actions: deletion flips the requester's tombstone flag only, and ReadAt
// is set at most once by the recipient.
type Message struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID    string `gorm:"type:uuid;not null;index:idx_messages_pair" json:"sender_id"`
	RecipientID string `gorm:"type:uuid;not null;index:idx_messages_pair;index" json:"recipient_id"`
	Sender      *User  `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Recipient   *User  `gorm:"foreignKey:RecipientID" json:"recipient,omitempty"`

	Content     string `gorm:"not null" json:"content"`
	Emoji       string `json:"emoji,omitempty"`
	MessageType string `gorm:"default:text" json:"message_type"`

	VoiceURL      string `json:"voice_url,omitempty"`
	VoiceDuration int    `json:"voice_duration,omitempty"`

	SentAt time.Time  `gorm:"index;not null" json:"sent_at"`
	ReadAt *time.Time `json:"read_at"`

	SenderDeleted    bool `gorm:"default:false" json:"-"`
	RecipientDeleted bool `gorm:"default:false" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// VisibleTo reports whether the supplied user still sees this message.
func (m *Message) VisibleTo(userID string) bool {
	switch userID {
	case m.SenderID:
		return !m.SenderDeleted
	case m.RecipientID:
		return !m.RecipientDeleted
	default:
		return false
	}
}
