package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatbridge/chatbridge/internal/realtime"
	"github.com/chatbridge/chatbridge/pkg/logger"
)

// DefaultBackoff is the reconnect schedule. The first retry is immediate; once
// the schedule is exhausted the connector gives up and goes Disconnected.
var DefaultBackoff = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// TokenFunc supplies a fresh access token for each dial attempt, so a
// reconnect after token rotation still authenticates.
type TokenFunc func() (string, error)

// EventFunc receives every pushed hub event.
type EventFunc func(name string, data json.RawMessage)

// StateFunc observes connection state transitions.
type StateFunc func(state ConnectionState)

// Connector maintains the realtime link to the hub. It dials, pumps pushed
// events to the handler, and reconnects with backoff when the link drops.
type Connector struct {
	hubURL  string
	token   TokenFunc
	dialer  *websocket.Dialer
	backoff []time.Duration
	onEvent EventFunc
	onState StateFunc
	log     *zap.Logger

	mu      sync.Mutex
	state   ConnectionState
	conn    *websocket.Conn
	closing bool
	done    chan struct{}
}

// ConnectorOption customises the connector.
type ConnectorOption func(*Connector)

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) ConnectorOption {
	return func(c *Connector) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(schedule []time.Duration) ConnectorOption {
	return func(c *Connector) {
		if len(schedule) > 0 {
			c.backoff = schedule
		}
	}
}

// WithEventHandler registers the pushed-event callback.
func WithEventHandler(handler EventFunc) ConnectorOption {
	return func(c *Connector) {
		c.onEvent = handler
	}
}

// WithStateHandler registers the state-transition callback.
func WithStateHandler(handler StateFunc) ConnectorOption {
	return func(c *Connector) {
		c.onState = handler
	}
}

// NewConnector builds a connector for the given hub endpoint, e.g.
// "ws://host:8000/hub".
func NewConnector(hubURL string, token TokenFunc, opts ...ConnectorOption) (*Connector, error) {
	if hubURL == "" {
		return nil, fmt.Errorf("hub url must be provided")
	}
	if token == nil {
		return nil, fmt.Errorf("token source must be provided")
	}

	c := &Connector{
		hubURL:  hubURL,
		token:   token,
		dialer:  websocket.DefaultDialer,
		backoff: DefaultBackoff,
		log:     logger.WithModule("client"),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current connection state.
func (c *Connector) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the link. It resolves either way: on success the state
// is Connected and the read pump is running; on failure the state is back to
// Disconnected and the dial error is returned.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("already %s", c.state)
	}
	c.closing = false
	c.done = make(chan struct{})
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		close(c.done)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readPump(conn)
	return nil
}

// Close tears the link down and stops reconnecting.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Done is closed once the connector has given up: closed, or out of retries.
func (c *Connector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// SendTyping tells the recipient the local user is typing.
func (c *Connector) SendTyping(recipientID string) error {
	return c.invoke(realtime.Invocation{Action: realtime.ActionTyping, RecipientID: recipientID})
}

// SendStopTyping withdraws the typing indicator.
func (c *Connector) SendStopTyping(recipientID string) error {
	return c.invoke(realtime.Invocation{Action: realtime.ActionStopTyping, RecipientID: recipientID})
}

// SendMarkAsRead notifies the sender their message was read. Persistence goes
// through the REST endpoint; this only short-circuits the sender's UI update.
func (c *Connector) SendMarkAsRead(messageID, senderID string) error {
	return c.invoke(realtime.Invocation{
		Action:    realtime.ActionMarkAsRead,
		MessageID: messageID,
		SenderID:  senderID,
	})
}

func (c *Connector) invoke(inv realtime.Invocation) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state != StateConnected {
		return fmt.Errorf("hub not connected")
	}
	return conn.WriteJSON(inv)
}

func (c *Connector) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("resolve access token: %w", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.hubURL+"?token="+token, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial hub: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	return conn, nil
}

func (c *Connector) readPump(conn *websocket.Conn) {
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closing := c.closing
			stale := c.conn != conn
			c.mu.Unlock()

			if closing || stale {
				return
			}
			c.log.Debug("hub link dropped", zap.Error(err))
			c.reconnect()
			return
		}

		if c.onEvent != nil && frame.Event != "" {
			c.onEvent(frame.Event, frame.Data)
		}
	}
}

// reconnect walks the backoff schedule. Each successful dial registers a fresh
// presence server-side, so the rest of the system sees the user come back
// online. Exhausting the schedule ends in Disconnected.
func (c *Connector) reconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	for _, delay := range c.backoff {
		if delay > 0 {
			time.Sleep(delay)
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.Debug("reconnect attempt failed", zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.setStateLocked(StateConnected)
		c.mu.Unlock()

		go c.readPump(conn)
		return
	}

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	c.mu.Unlock()
}

func (c *Connector) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	if c.onState != nil {
		// Callbacks run inline; handlers must not call back into the connector.
		c.onState(state)
	}
}
