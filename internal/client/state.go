package client

// ConnectionState describes where the realtime link currently stands.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// MessageState tracks a message through the optimistic-send lifecycle.
type MessageState int

const (
	// MessagePending is a locally composed message awaiting server confirmation.
	MessagePending MessageState = iota
	// MessageConfirmed has a server identity and timestamps. A send that fails
	// never reaches this state; the message is removed and its draft restored.
	MessageConfirmed
)

func (s MessageState) String() string {
	if s == MessageConfirmed {
		return "confirmed"
	}
	return "pending"
}
