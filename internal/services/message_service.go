package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/internal/realtime"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/logger"
	"github.com/chatbridge/chatbridge/pkg/metrics"
)

// DefaultVoiceContent is the placeholder text stored for voice messages.
const DefaultVoiceContent = "🎤 Voice Message"

// MessageDTO is the wire representation of a message.
type MessageDTO struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"senderId"`
	SenderUsername string     `json:"senderUsername,omitempty"`
	SenderAvatar   string     `json:"senderAvatar,omitempty"`
	RecipientID    string     `json:"recipientId"`
	Content        string     `json:"content"`
	Emoji          string     `json:"emoji,omitempty"`
	MessageType    string     `json:"messageType"`
	VoiceURL       string     `json:"voiceUrl,omitempty"`
	VoiceDuration  int        `json:"voiceDuration,omitempty"`
	SentAt         time.Time  `json:"sentAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// ConversationDTO summarises one counterpart thread for the conversation list.
type ConversationDTO struct {
	OtherUserID     string    `json:"otherUserId"`
	OtherUsername   string    `json:"otherUsername"`
	OtherAvatar     string    `json:"otherAvatar,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
	IsOnline        bool      `json:"isOnline"`
}

// MessageService persists direct messages and pushes realtime notifications.
// Pushes are fire-and-forget: a recipient without a live connection catches up
// through the REST endpoints.
type MessageService struct {
	db  *gorm.DB
	hub *realtime.Hub
	now func() time.Time
	log *zap.Logger
}

// MessageServiceOption customises the service.
type MessageServiceOption func(*MessageService)

// WithClock overrides the clock, primarily for tests.
func WithClock(now func() time.Time) MessageServiceOption {
	return func(s *MessageService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMessageService constructs the message service.
func NewMessageService(db *gorm.DB, hub *realtime.Hub, opts ...MessageServiceOption) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if hub == nil {
		return nil, errors.New("message service: hub is required")
	}

	svc := &MessageService{
		db:  db,
		hub: hub,
		now: time.Now,
		log: logger.WithModule("messages"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Send persists a text message and notifies one live connection of the recipient.
func (s *MessageService) Send(ctx context.Context, senderID, recipientID, content, emoji string) (*MessageDTO, error) {
	content = strings.TrimSpace(content)
	if content == "" && emoji == "" {
		return nil, apperrors.NewBadRequest("message content is required")
	}
	if senderID == recipientID {
		return nil, apperrors.NewBadRequest("cannot send a message to yourself")
	}

	sender, err := s.findUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.findUser(ctx, recipientID); err != nil {
		return nil, err
	}

	message := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Emoji:       emoji,
		MessageType: models.MessageTypeText,
		SentAt:      s.now(),
	}

	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	metrics.MessagesSent.WithLabelValues(models.MessageTypeText).Inc()

	dto := s.toDTO(message, sender)
	s.pushToRecipient(recipientID, realtime.Event{
		Event: realtime.EventMessageReceived,
		Data:  dto,
	})

	return dto, nil
}

// SendVoice persists a voice message referencing an already uploaded clip.
func (s *MessageService) SendVoice(ctx context.Context, senderID, recipientID, voiceURL string, duration int) (*MessageDTO, error) {
	if strings.TrimSpace(voiceURL) == "" {
		return nil, apperrors.NewBadRequest("voice url is required")
	}
	if senderID == recipientID {
		return nil, apperrors.NewBadRequest("cannot send a message to yourself")
	}

	sender, err := s.findUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.findUser(ctx, recipientID); err != nil {
		return nil, err
	}

	message := &models.Message{
		SenderID:      senderID,
		RecipientID:   recipientID,
		Content:       DefaultVoiceContent,
		MessageType:   models.MessageTypeVoice,
		VoiceURL:      voiceURL,
		VoiceDuration: duration,
		SentAt:        s.now(),
	}

	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("message service: create voice message: %w", err)
	}

	metrics.MessagesSent.WithLabelValues(models.MessageTypeVoice).Inc()

	dto := s.toDTO(message, sender)
	s.pushToRecipient(recipientID, realtime.Event{
		Event: realtime.EventMessageReceived,
		Data:  dto,
	})

	return dto, nil
}

// History returns the visible messages between two users, oldest first.
func (s *MessageService) History(ctx context.Context, userID, otherID string) ([]MessageDTO, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userID, otherID, otherID, userID).
		Order("sent_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("message service: load history: %w", err)
	}

	dtos := make([]MessageDTO, 0, len(messages))
	for i := range messages {
		message := &messages[i]
		if !message.VisibleTo(userID) {
			continue
		}
		dtos = append(dtos, *s.toDTO(message, message.Sender))
	}
	return dtos, nil
}

// Conversations aggregates the user's threads: one entry per counterpart with
// the latest message and unread count, newest thread first.
func (s *MessageService) Conversations(ctx context.Context, userID string) ([]ConversationDTO, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("sent_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("message service: load conversations: %w", err)
	}

	type thread struct {
		last   *models.Message
		unread int
	}
	threads := make(map[string]*thread)

	for i := range messages {
		message := &messages[i]
		if !message.VisibleTo(userID) {
			continue
		}

		otherID := message.SenderID
		if otherID == userID {
			otherID = message.RecipientID
		}

		entry, ok := threads[otherID]
		if !ok {
			entry = &thread{}
			threads[otherID] = entry
		}
		entry.last = message
		if message.RecipientID == userID && message.ReadAt == nil {
			entry.unread++
		}
	}

	if len(threads) == 0 {
		return []ConversationDTO{}, nil
	}

	otherIDs := make([]string, 0, len(threads))
	for id := range threads {
		otherIDs = append(otherIDs, id)
	}

	var others []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", otherIDs).Find(&others).Error; err != nil {
		return nil, fmt.Errorf("message service: load counterparts: %w", err)
	}
	usersByID := make(map[string]*models.User, len(others))
	for i := range others {
		usersByID[others[i].ID] = &others[i]
	}

	conversations := make([]ConversationDTO, 0, len(threads))
	for otherID, entry := range threads {
		dto := ConversationDTO{
			OtherUserID:     otherID,
			LastMessage:     entry.last.Content,
			LastMessageTime: entry.last.SentAt,
			UnreadCount:     entry.unread,
			IsOnline:        s.hub.IsOnline(otherID),
		}
		if other, ok := usersByID[otherID]; ok {
			dto.OtherUsername = other.Username
			dto.OtherAvatar = other.Avatar
		}
		conversations = append(conversations, dto)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessageTime.After(conversations[j].LastMessageTime)
	})

	return conversations, nil
}

// MarkRead sets the read receipt once. Only the recipient may mark a message;
// repeating the call is a no-op success so retries and races stay harmless.
func (s *MessageService) MarkRead(ctx context.Context, messageID, readerID string) (*MessageDTO, error) {
	var message models.Message
	err := s.db.WithContext(ctx).Take(&message, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message service: find message: %w", err)
	}

	if message.RecipientID != readerID {
		return nil, apperrors.ErrForbidden
	}

	if message.ReadAt == nil {
		now := s.now()
		if err := s.db.WithContext(ctx).Model(&message).Update("read_at", now).Error; err != nil {
			return nil, fmt.Errorf("message service: mark read: %w", err)
		}
		message.ReadAt = &now

		s.pushToRecipient(message.SenderID, realtime.Event{
			Event: realtime.EventMessageRead,
			Data:  realtime.ReadPayload{MessageID: message.ID, ReaderID: readerID},
		})
	}

	return s.toDTO(&message, nil), nil
}

// Delete tombstones the requester's side of the message. The counterpart keeps
// their copy; the row itself is never destroyed.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID string) error {
	var message models.Message
	err := s.db.WithContext(ctx).Take(&message, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("message service: find message: %w", err)
	}

	var column string
	var otherID string
	switch requesterID {
	case message.SenderID:
		column = "sender_deleted"
		otherID = message.RecipientID
	case message.RecipientID:
		column = "recipient_deleted"
		otherID = message.SenderID
	default:
		return apperrors.ErrForbidden
	}

	if err := s.db.WithContext(ctx).Model(&message).Update(column, true).Error; err != nil {
		return fmt.Errorf("message service: delete message: %w", err)
	}

	s.pushToRecipient(otherID, realtime.Event{
		Event: realtime.EventMessageDeleted,
		Data:  realtime.DeletedPayload{MessageID: message.ID},
	})

	return nil
}

// UnreadCount returns how many visible messages addressed to the user are unread.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("recipient_id = ? AND read_at IS NULL AND recipient_deleted = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("message service: unread count: %w", err)
	}
	return count, nil
}

func (s *MessageService) findUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message service: find user: %w", err)
	}
	return &user, nil
}

func (s *MessageService) pushToRecipient(userID string, event realtime.Event) {
	if !s.hub.SendToUser(userID, event) {
		// Offline recipients recover through the next REST fetch.
		s.log.Debug("recipient offline, push skipped",
			zap.String("user_id", userID),
			zap.String("event", event.Event),
		)
	}
}

func (s *MessageService) toDTO(message *models.Message, sender *models.User) *MessageDTO {
	dto := &MessageDTO{
		ID:            message.ID,
		SenderID:      message.SenderID,
		RecipientID:   message.RecipientID,
		Content:       message.Content,
		Emoji:         message.Emoji,
		MessageType:   message.MessageType,
		VoiceURL:      message.VoiceURL,
		VoiceDuration: message.VoiceDuration,
		SentAt:        message.SentAt,
		ReadAt:        message.ReadAt,
	}
	if sender != nil {
		dto.SenderUsername = sender.Username
		dto.SenderAvatar = sender.Avatar
	}
	return dto
}
