package realtime

// Server-to-client event names. Targeted events go to a single resolved
// connection of the recipient; global events go to every open connection.
const (
	EventMessageReceived   = "MessageReceived"
	EventMessageRead       = "MessageRead"
	EventMessageDeleted    = "MessageDeleted"
	EventUserTyping        = "UserTyping"
	EventUserStoppedTyping = "UserStoppedTyping"

	EventUserOnline        = "UserOnline"
	EventUserOffline       = "UserOffline"
	EventOnlineUsersUpdate = "OnlineUsersUpdate"
	EventUserBanned        = "UserBanned"
	EventUserUnbanned      = "UserUnbanned"
)

// Client-to-server invocation actions.
const (
	ActionTyping         = "Typing"
	ActionStopTyping     = "StopTyping"
	ActionMarkAsRead     = "MarkAsRead"
	ActionJoinUserGroup  = "JoinUserGroup"
	ActionLeaveUserGroup = "LeaveUserGroup"
)

// Event is the JSON frame pushed to clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Invocation is the JSON frame clients send to invoke a hub action.
type Invocation struct {
	Action      string `json:"action"`
	RecipientID string `json:"recipientId,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// TypingPayload accompanies UserTyping and UserStoppedTyping.
type TypingPayload struct {
	UserID string `json:"userId"`
}

// ReadPayload accompanies MessageRead.
type ReadPayload struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId"`
}

// DeletedPayload accompanies MessageDeleted.
type DeletedPayload struct {
	MessageID string `json:"messageId"`
}

// PresencePayload accompanies UserOnline and UserOffline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// OnlineUsersPayload accompanies OnlineUsersUpdate and carries the full set.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// BanPayload accompanies UserBanned. Every client receives it and acts only
// when the id matches its own authenticated user.
type BanPayload struct {
	UserID      string `json:"userId"`
	Message     string `json:"message"`
	IsPermanent bool   `json:"isPermanent"`
}

// UnbanPayload accompanies UserUnbanned.
type UnbanPayload struct {
	UserID string `json:"userId"`
}
