package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatbridge/chatbridge/pkg/metrics"
)

// connection wraps one websocket held by one user. A user may hold several
// connections at once (multiple tabs or devices).
type connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string
	id     string

	sendMu sync.Mutex
	closed bool
	send   chan Event
	once   sync.Once

	// limiters is only touched from readLoop, one goroutine per connection.
	limiters map[string]*rate.Limiter
	groups   map[string]struct{}
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string) *connection {
	return &connection{
		hub:      hub,
		socket:   socket,
		userID:   userID,
		id:       newConnectionID(),
		send:     make(chan Event, defaultBufferSize),
		limiters: make(map[string]*rate.Limiter),
		groups:   make(map[string]struct{}),
	}
}

// allow enforces the per-(connection, action) cooldown. The first invocation
// passes immediately; repeats inside the cooldown window are rejected.
func (c *connection) allow(action string) bool {
	limiter, ok := c.limiters[action]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.hub.cooldown), 1)
		c.limiters[action] = limiter
	}
	return limiter.Allow()
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		inv, ok := decodeInvocation(payload)
		if !ok {
			c.hub.log.Debug("invalid invocation payload", zap.String("user_id", c.userID))
			continue
		}

		if !c.allow(inv.Action) {
			// Silent drop; the sender receives no feedback.
			metrics.ThrottledActions.WithLabelValues(inv.Action).Inc()
			continue
		}

		c.dispatch(inv)
	}
}

func (c *connection) dispatch(inv Invocation) {
	switch inv.Action {
	case ActionTyping:
		if inv.RecipientID == "" {
			return
		}
		c.hub.SendToUser(inv.RecipientID, Event{
			Event: EventUserTyping,
			Data:  TypingPayload{UserID: c.userID},
		})
	case ActionStopTyping:
		if inv.RecipientID == "" {
			return
		}
		c.hub.SendToUser(inv.RecipientID, Event{
			Event: EventUserStoppedTyping,
			Data:  TypingPayload{UserID: c.userID},
		})
	case ActionMarkAsRead:
		// Notify-only: persistence happens through the REST endpoint. The
		// original sender learns the message was read without a refetch.
		if inv.MessageID == "" || inv.SenderID == "" {
			return
		}
		c.hub.SendToUser(inv.SenderID, Event{
			Event: EventMessageRead,
			Data:  ReadPayload{MessageID: inv.MessageID, ReaderID: c.userID},
		})
	case ActionJoinUserGroup:
		c.hub.joinGroup(c, inv.UserID)
	case ActionLeaveUserGroup:
		c.hub.leaveGroup(c, inv.UserID)
	default:
		c.hub.log.Debug("unsupported invocation",
			zap.String("action", inv.Action),
			zap.String("user_id", c.userID),
		)
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// tryEnqueue offers the event to the send channel. It returns false when the
// buffer is full, and silently ignores connections already shut down.
func (c *connection) tryEnqueue(event Event) (ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)

		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()

		_ = c.socket.Close()
	})
}
