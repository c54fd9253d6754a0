package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatbridge/chatbridge/pkg/logger"
	"github.com/chatbridge/chatbridge/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64 KiB, invocation frames are tiny

	defaultBufferSize = 64

	// DefaultActionCooldown spaces repeated invocations of the same action on
	// the same connection. Throttled invocations are dropped without feedback.
	DefaultActionCooldown = 500 * time.Millisecond
)

// Hub tracks which users are connected and delivers realtime events. Presence
// state is kept per user with its own lock so one user's connect or disconnect
// never blocks another's.
type Hub struct {
	buckets  sync.Map // userID -> *userBucket
	groupsMu sync.Mutex
	groups   map[string]map[*connection]struct{}

	upgrader websocket.Upgrader
	cooldown time.Duration
	log      *zap.Logger
}

type userBucket struct {
	mu    sync.Mutex
	conns map[*connection]struct{}
	gone  bool // bucket removed from the registry; callers must retry
}

// Option customises hub behaviour.
type Option func(*Hub)

// WithActionCooldown overrides the per-(connection, action) cooldown, primarily for tests.
func WithActionCooldown(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.cooldown = d
		}
	}
}

// NewHub constructs a realtime hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		groups:   make(map[string]map[*connection]struct{}),
		cooldown: DefaultActionCooldown,
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Serve upgrades the HTTP connection to a WebSocket and registers the user as
// present. It blocks until the connection closes.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket, userID)

	first := h.add(client)
	metrics.LiveConnections.Inc()
	if first {
		metrics.OnlineUsers.Inc()
		h.Broadcast(Event{Event: EventUserOnline, Data: PresencePayload{UserID: userID}})
	}
	h.Broadcast(Event{Event: EventOnlineUsersUpdate, Data: OnlineUsersPayload{UserIDs: h.OnlineUserIDs()}})

	go client.writeLoop()
	client.readLoop()
}

// SendToUser delivers an event to one arbitrary live connection of the user.
// It reports false when the user has no connection; the event is simply lost
// and the recipient recovers state through the REST API.
func (h *Hub) SendToUser(userID string, event Event) bool {
	client := h.resolve(userID)
	if client == nil {
		return false
	}
	h.enqueue(client, event)
	return true
}

// Broadcast delivers an event to every open connection.
func (h *Hub) Broadcast(event Event) {
	h.buckets.Range(func(_, value any) bool {
		bucket := value.(*userBucket)
		bucket.mu.Lock()
		targets := make([]*connection, 0, len(bucket.conns))
		for client := range bucket.conns {
			targets = append(targets, client)
		}
		bucket.mu.Unlock()

		for _, client := range targets {
			h.enqueue(client, event)
		}
		return true
	})
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	value, ok := h.buckets.Load(userID)
	if !ok {
		return false
	}
	bucket := value.(*userBucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return len(bucket.conns) > 0
}

// OnlineUserIDs returns the sorted ids of all users currently connected.
func (h *Hub) OnlineUserIDs() []string {
	var ids []string
	h.buckets.Range(func(key, value any) bool {
		bucket := value.(*userBucket)
		bucket.mu.Lock()
		if len(bucket.conns) > 0 {
			ids = append(ids, key.(string))
		}
		bucket.mu.Unlock()
		return true
	})
	sort.Strings(ids)
	return ids
}

// Shutdown closes every live connection. Callers stop routing new upgrades
// before shutting the hub down.
func (h *Hub) Shutdown() {
	h.buckets.Range(func(_, value any) bool {
		bucket := value.(*userBucket)
		bucket.mu.Lock()
		targets := make([]*connection, 0, len(bucket.conns))
		for client := range bucket.conns {
			targets = append(targets, client)
		}
		bucket.mu.Unlock()

		for _, client := range targets {
			client.close()
		}
		return true
	})
}

func (h *Hub) add(client *connection) (first bool) {
	for {
		value, _ := h.buckets.LoadOrStore(client.userID, &userBucket{conns: make(map[*connection]struct{})})
		bucket := value.(*userBucket)

		bucket.mu.Lock()
		if bucket.gone {
			bucket.mu.Unlock()
			continue
		}
		first = len(bucket.conns) == 0
		bucket.conns[client] = struct{}{}
		bucket.mu.Unlock()
		return first
	}
}

func (h *Hub) remove(client *connection) (last bool) {
	value, ok := h.buckets.Load(client.userID)
	if !ok {
		return false
	}
	bucket := value.(*userBucket)

	bucket.mu.Lock()
	if _, ok := bucket.conns[client]; !ok {
		bucket.mu.Unlock()
		return false
	}
	delete(bucket.conns, client)
	if len(bucket.conns) == 0 {
		bucket.gone = true
		h.buckets.Delete(client.userID)
		last = true
	}
	bucket.mu.Unlock()
	return last
}

func (h *Hub) resolve(userID string) *connection {
	value, ok := h.buckets.Load(userID)
	if !ok {
		return nil
	}
	bucket := value.(*userBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	for client := range bucket.conns {
		return client
	}
	return nil
}

func (h *Hub) unregister(client *connection) {
	last := h.remove(client)
	h.leaveAllGroups(client)
	metrics.LiveConnections.Dec()

	if last {
		metrics.OnlineUsers.Dec()
		h.Broadcast(Event{Event: EventUserOffline, Data: PresencePayload{UserID: client.userID}})
	}
	h.Broadcast(Event{Event: EventOnlineUsersUpdate, Data: OnlineUsersPayload{UserIDs: h.OnlineUserIDs()}})
}

func (h *Hub) enqueue(client *connection, event Event) {
	if !client.tryEnqueue(event) {
		h.log.Warn("dropping backpressure client",
			zap.String("user_id", client.userID),
			zap.String("connection_id", client.id),
		)
		client.close()
	}
}

func (h *Hub) joinGroup(client *connection, group string) {
	group = strings.TrimSpace(group)
	if group == "" {
		return
	}

	h.groupsMu.Lock()
	defer h.groupsMu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*connection]struct{})
	}
	h.groups[group][client] = struct{}{}
	client.groups[group] = struct{}{}
}

func (h *Hub) leaveGroup(client *connection, group string) {
	group = strings.TrimSpace(group)
	if group == "" {
		return
	}

	h.groupsMu.Lock()
	defer h.groupsMu.Unlock()
	h.removeFromGroupLocked(client, group)
}

func (h *Hub) leaveAllGroups(client *connection) {
	h.groupsMu.Lock()
	defer h.groupsMu.Unlock()

	for group := range client.groups {
		h.removeFromGroupLocked(client, group)
	}
}

func (h *Hub) removeFromGroupLocked(client *connection, group string) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	delete(client.groups, group)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func decodeInvocation(payload []byte) (Invocation, bool) {
	var inv Invocation
	if err := json.Unmarshal(payload, &inv); err != nil {
		return Invocation{}, false
	}
	inv.Action = strings.TrimSpace(inv.Action)
	return inv, inv.Action != ""
}

func newConnectionID() string {
	return uuid.NewString()
}
