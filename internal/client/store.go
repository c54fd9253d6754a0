package client

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatbridge/chatbridge/internal/realtime"
	"github.com/chatbridge/chatbridge/pkg/logger"
)

const (
	// DefaultDedupWindow bounds how far apart two otherwise identical messages
	// may sit and still be treated as the same delivery.
	DefaultDedupWindow = time.Second

	// DefaultReceiptTTL bounds how long a read receipt for an unknown message
	// is buffered before it is given up on.
	DefaultReceiptTTL = 5 * time.Minute

	// DefaultNotifyCooldown suppresses repeat notifications from one sender.
	DefaultNotifyCooldown = 3 * time.Minute

	// DefaultAutoReadDelay is the pause before an open, focused conversation
	// marks incoming messages as read.
	DefaultAutoReadDelay = time.Second
)

// Message is the client-side view of a chat message.
type Message struct {
	ID            string     `json:"id"`
	SenderID      string     `json:"senderId"`
	RecipientID   string     `json:"recipientId"`
	Content       string     `json:"content"`
	MessageType   string     `json:"messageType"`
	VoiceURL      string     `json:"voiceUrl,omitempty"`
	VoiceDuration int        `json:"voiceDuration,omitempty"`
	SentAt        time.Time  `json:"sentAt"`
	ReadAt        *time.Time `json:"readAt,omitempty"`
	Deleted       bool       `json:"-"`
	State         MessageState
}

// Hooks let the embedding application react to store transitions. All hooks are
// optional and invoked outside the store lock.
type Hooks struct {
	OnMessage  func(message Message)
	OnNotify   func(senderID string)
	OnTyping   func(userID string, typing bool)
	OnPresence func(userID string, online bool)
	OnAutoRead func(messageIDs []string)
	OnBanned   func(message string)
}

// Store reconciles pushed events with locally known state. Pushes are
// at-least-once and unordered relative to REST fetches, so every merge is
// idempotent: duplicates collapse, receipts for unseen messages wait, and
// optimistic sends reconcile once the server answers.
type Store struct {
	mu sync.Mutex

	selfID string
	now    func() time.Time
	log    *zap.Logger

	threads map[string][]*Message // keyed by counterpart user id
	byID    map[string]*Message

	pendingReceipts map[string]receiptEntry
	receiptTTL      time.Duration
	dedupWindow     time.Duration

	online map[string]struct{}

	notifier *notifier

	openConversation string
	focused          bool
	autoReadDelay    time.Duration
	autoReadTimer    *time.Timer

	banned bool

	hooks Hooks
}

type receiptEntry struct {
	readAt     time.Time
	bufferedAt time.Time
}

// StoreOption customises the store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock, primarily for tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReceiptTTL overrides how long orphaned read receipts are buffered.
func WithReceiptTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.receiptTTL = d
		}
	}
}

// WithNotifyCooldown overrides the per-sender notification cooldown.
func WithNotifyCooldown(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.notifier.cooldown = d
		}
	}
}

// WithAutoReadDelay overrides the auto-mark-read pause.
func WithAutoReadDelay(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.autoReadDelay = d
		}
	}
}

// WithHooks attaches application callbacks.
func WithHooks(hooks Hooks) StoreOption {
	return func(s *Store) {
		s.hooks = hooks
	}
}

// NewStore constructs a reconciliation store for the authenticated user.
func NewStore(selfID string, opts ...StoreOption) *Store {
	s := &Store{
		selfID:          selfID,
		now:             time.Now,
		log:             logger.WithModule("client"),
		threads:         make(map[string][]*Message),
		byID:            make(map[string]*Message),
		pendingReceipts: make(map[string]receiptEntry),
		receiptTTL:      DefaultReceiptTTL,
		dedupWindow:     DefaultDedupWindow,
		online:          make(map[string]struct{}),
		autoReadDelay:   DefaultAutoReadDelay,
	}
	s.notifier = newNotifier(DefaultNotifyCooldown, func() time.Time { return s.now() })

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleEvent dispatches one pushed hub event into the store.
func (s *Store) HandleEvent(name string, data json.RawMessage) {
	switch name {
	case realtime.EventMessageReceived:
		var message Message
		if json.Unmarshal(data, &message) != nil {
			return
		}
		s.MergeIncoming(message)

	case realtime.EventMessageRead:
		var receipt realtime.ReadPayload
		if json.Unmarshal(data, &receipt) != nil {
			return
		}
		s.ApplyReadReceipt(receipt.MessageID)

	case realtime.EventMessageDeleted:
		var deleted realtime.DeletedPayload
		if json.Unmarshal(data, &deleted) != nil {
			return
		}
		s.Tombstone(deleted.MessageID)

	case realtime.EventUserOnline:
		var presence realtime.PresencePayload
		if json.Unmarshal(data, &presence) != nil {
			return
		}
		s.setPresence(presence.UserID, true)

	case realtime.EventUserOffline:
		var presence realtime.PresencePayload
		if json.Unmarshal(data, &presence) != nil {
			return
		}
		s.setPresence(presence.UserID, false)

	case realtime.EventOnlineUsersUpdate:
		var snapshot realtime.OnlineUsersPayload
		if json.Unmarshal(data, &snapshot) != nil {
			return
		}
		s.SetOnlineUsers(snapshot.UserIDs)

	case realtime.EventUserTyping:
		var typing realtime.TypingPayload
		if json.Unmarshal(data, &typing) == nil && s.hooks.OnTyping != nil {
			s.hooks.OnTyping(typing.UserID, true)
		}

	case realtime.EventUserStoppedTyping:
		var typing realtime.TypingPayload
		if json.Unmarshal(data, &typing) == nil && s.hooks.OnTyping != nil {
			s.hooks.OnTyping(typing.UserID, false)
		}

	case realtime.EventUserBanned:
		var ban realtime.BanPayload
		if json.Unmarshal(data, &ban) != nil {
			return
		}
		s.applyBan(ban)

	default:
		// Unknown events are ignored; newer servers may push more than we know.
	}
}

// MergeIncoming folds one pushed or fetched message into the store. It reports
// whether the message was new; duplicates collapse silently.
func (s *Store) MergeIncoming(message Message) bool {
	s.mu.Lock()

	if s.isDuplicateLocked(&message) {
		s.mu.Unlock()
		return false
	}

	message.State = MessageConfirmed
	stored := message
	s.insertLocked(&stored)
	s.evictStaleReceiptsLocked()
	s.replayReceiptsLocked()

	notify := false
	otherID := s.counterpart(&stored)
	if stored.RecipientID == s.selfID {
		if s.conversationOpenLocked(otherID) {
			s.scheduleAutoReadLocked()
		} else {
			notify = s.notifier.shouldNotify(stored.SenderID)
		}
	}
	s.mu.Unlock()

	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(stored)
	}
	if notify && s.hooks.OnNotify != nil {
		s.hooks.OnNotify(stored.SenderID)
	}
	return true
}

// ApplyReadReceipt marks the message read, or buffers the receipt until the
// message arrives.
func (s *Store) ApplyReadReceipt(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if message, ok := s.byID[messageID]; ok {
		if message.ReadAt == nil {
			message.ReadAt = &now
		}
		return
	}

	s.pendingReceipts[messageID] = receiptEntry{readAt: now, bufferedAt: now}
	s.evictStaleReceiptsLocked()
}

// Tombstone hides the message locally.
func (s *Store) Tombstone(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message, ok := s.byID[messageID]; ok {
		message.Deleted = true
	}
}

// OptimisticSend synthesizes a pending local message so the conversation can
// render it immediately. The returned local id reconciles the send later.
func (s *Store) OptimisticSend(recipientID, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := &Message{
		ID:          "local-" + uuid.NewString(),
		SenderID:    s.selfID,
		RecipientID: recipientID,
		Content:     content,
		MessageType: "text",
		SentAt:      s.now(),
		State:       MessagePending,
	}
	s.insertLocked(message)
	return *message
}

// ConfirmSend reconciles a pending message with the persisted copy the server
// returned. The confirmed identity also shields against the echo push.
func (s *Store) ConfirmSend(localID string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.byID[localID]
	if !ok {
		return
	}
	delete(s.byID, localID)

	// The server timestamp replaces the local one, so reposition in the thread.
	s.removeFromThreadLocked(message)
	message.ID = confirmed.ID
	message.SentAt = confirmed.SentAt
	message.ReadAt = confirmed.ReadAt
	message.State = MessageConfirmed
	s.insertLocked(message)

	s.replayReceiptsLocked()
}

// FailSend drops the pending message and hands the content back so the
// application can restore the compose draft.
func (s *Store) FailSend(localID string) (draft string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, found := s.byID[localID]
	if !found || message.State != MessagePending {
		return "", false
	}

	delete(s.byID, localID)
	s.removeFromThreadLocked(message)
	return message.Content, true
}

func (s *Store) removeFromThreadLocked(message *Message) {
	otherID := s.counterpart(message)
	thread := s.threads[otherID]
	for i, candidate := range thread {
		if candidate == message {
			s.threads[otherID] = append(thread[:i], thread[i+1:]...)
			return
		}
	}
}

// Conversation returns the visible messages with the given user, oldest first.
func (s *Store) Conversation(otherID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.threads[otherID]
	visible := make([]Message, 0, len(thread))
	for _, message := range thread {
		if message.Deleted {
			continue
		}
		visible = append(visible, *message)
	}
	return visible
}

// UnreadCount reports how many visible messages from the given user await reading.
func (s *Store) UnreadCount(otherID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, message := range s.threads[otherID] {
		if message.Deleted || message.ReadAt != nil {
			continue
		}
		if message.RecipientID == s.selfID {
			count++
		}
	}
	return count
}

// OpenConversation marks one thread as visible; auto-read fires only for the
// open thread while the window is focused.
func (s *Store) OpenConversation(otherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openConversation = otherID
	if otherID != "" && s.focused {
		s.scheduleAutoReadLocked()
	}
}

// SetFocused records window focus, gating auto-read.
func (s *Store) SetFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.focused = focused
	if focused && s.openConversation != "" {
		s.scheduleAutoReadLocked()
	}
}

// IsOnline reports last known presence for the user.
func (s *Store) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns the sorted set of users currently known to be online.
func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetOnlineUsers replaces the presence set from a full snapshot.
func (s *Store) SetOnlineUsers(userIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		s.online[id] = struct{}{}
	}
}

// Banned reports whether the local user has been banned this session.
func (s *Store) Banned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banned
}

func (s *Store) setPresence(userID string, online bool) {
	s.mu.Lock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
	s.mu.Unlock()

	if s.hooks.OnPresence != nil {
		s.hooks.OnPresence(userID, online)
	}
}

func (s *Store) applyBan(ban realtime.BanPayload) {
	if ban.UserID != s.selfID {
		return
	}

	s.mu.Lock()
	already := s.banned
	s.banned = true
	s.mu.Unlock()

	// The notice surfaces at most once per session.
	if !already && s.hooks.OnBanned != nil {
		s.hooks.OnBanned(ban.Message)
	}
}

func (s *Store) isDuplicateLocked(message *Message) bool {
	if _, ok := s.byID[message.ID]; ok {
		return true
	}

	// Same sender, same content, sent within the window: treat as a duplicate
	// delivery even when ids differ.
	otherID := s.counterpart(message)
	for _, known := range s.threads[otherID] {
		if known.SenderID != message.SenderID || known.Content != message.Content {
			continue
		}
		delta := known.SentAt.Sub(message.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < s.dedupWindow {
			return true
		}
	}
	return false
}

// insertLocked keeps the thread ascending by SentAt. Pushes can land before
// the history fetch merges, so position depends on the timestamp, not arrival.
func (s *Store) insertLocked(message *Message) {
	otherID := s.counterpart(message)
	thread := s.threads[otherID]

	pos := sort.Search(len(thread), func(i int) bool {
		return thread[i].SentAt.After(message.SentAt)
	})
	thread = append(thread, nil)
	copy(thread[pos+1:], thread[pos:])
	thread[pos] = message

	s.threads[otherID] = thread
	s.byID[message.ID] = message
}

func (s *Store) replayReceiptsLocked() {
	for messageID, entry := range s.pendingReceipts {
		message, ok := s.byID[messageID]
		if !ok {
			continue
		}
		if message.ReadAt == nil {
			readAt := entry.readAt
			message.ReadAt = &readAt
		}
		delete(s.pendingReceipts, messageID)
	}
}

func (s *Store) evictStaleReceiptsLocked() {
	cutoff := s.now().Add(-s.receiptTTL)
	for messageID, entry := range s.pendingReceipts {
		if entry.bufferedAt.Before(cutoff) {
			delete(s.pendingReceipts, messageID)
		}
	}
}

func (s *Store) counterpart(message *Message) string {
	if message.SenderID == s.selfID {
		return message.RecipientID
	}
	return message.SenderID
}

func (s *Store) conversationOpenLocked(otherID string) bool {
	return s.focused && s.openConversation == otherID
}

// scheduleAutoReadLocked resets the pending timer; timers never stack.
func (s *Store) scheduleAutoReadLocked() {
	if s.hooks.OnAutoRead == nil {
		return
	}
	if s.autoReadTimer != nil {
		s.autoReadTimer.Stop()
	}
	s.autoReadTimer = time.AfterFunc(s.autoReadDelay, s.fireAutoRead)
}

func (s *Store) fireAutoRead() {
	s.mu.Lock()
	if !s.focused || s.openConversation == "" {
		s.mu.Unlock()
		return
	}

	var unread []string
	for _, message := range s.threads[s.openConversation] {
		if message.Deleted || message.ReadAt != nil {
			continue
		}
		if message.RecipientID == s.selfID && message.State == MessageConfirmed {
			unread = append(unread, message.ID)
		}
	}
	s.mu.Unlock()

	if len(unread) > 0 && s.hooks.OnAutoRead != nil {
		s.hooks.OnAutoRead(unread)
	}
}
