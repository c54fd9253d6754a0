package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestPresenceBroadcastExactlyOnce(t *testing.T) {
	hub, server := newTestHub(t)

	observer := dialTestUser(t, hub, server, "observer")

	// Two connections for the same user: one UserOnline, never two.
	first := dialTestUser(t, hub, server, "bob")
	second := dialTestUser(t, hub, server, "bob")

	events := collectEvents(t, observer, 500*time.Millisecond)
	require.Equal(t, 1, countEvents(events, EventUserOnline, "bob"))

	// Dropping one connection keeps the user online.
	require.NoError(t, first.Close())
	events = collectEvents(t, observer, 500*time.Millisecond)
	require.Equal(t, 0, countEvents(events, EventUserOffline, "bob"))
	require.True(t, hub.IsOnline("bob"))

	// Dropping the last connection produces exactly one UserOffline.
	require.NoError(t, second.Close())
	events = collectEvents(t, observer, 500*time.Millisecond)
	require.Equal(t, 1, countEvents(events, EventUserOffline, "bob"))
	require.Eventually(t, func() bool { return !hub.IsOnline("bob") }, time.Second, 10*time.Millisecond)
}

func TestSendToUserTargetsSingleConnection(t *testing.T) {
	hub, server := newTestHub(t)

	first := dialTestUser(t, hub, server, "carol")
	second := dialTestUser(t, hub, server, "carol")

	delivered := hub.SendToUser("carol", Event{
		Event: EventMessageDeleted,
		Data:  DeletedPayload{MessageID: "m-1"},
	})
	require.True(t, delivered)

	firstEvents := collectEvents(t, first, 400*time.Millisecond)
	secondEvents := collectEvents(t, second, 400*time.Millisecond)

	total := countEvents(firstEvents, EventMessageDeleted, "") + countEvents(secondEvents, EventMessageDeleted, "")
	require.Equal(t, 1, total, "targeted events go to exactly one connection")
}

func TestSendToUserOfflineIsTransient(t *testing.T) {
	hub, _ := newTestHub(t)

	delivered := hub.SendToUser("ghost", Event{Event: EventMessageDeleted})
	require.False(t, delivered)
}

func TestTypingInvocationThrottled(t *testing.T) {
	hub, server := newTestHub(t)

	sender := dialTestUser(t, hub, server, "sender")
	recipient := dialTestUser(t, hub, server, "recipient")

	for i := 0; i < 10; i++ {
		require.NoError(t, sender.WriteJSON(Invocation{
			Action:      ActionTyping,
			RecipientID: "recipient",
		}))
		time.Sleep(20 * time.Millisecond)
	}

	events := collectEvents(t, recipient, 500*time.Millisecond)
	forwarded := countEvents(events, EventUserTyping, "")
	require.LessOrEqual(t, forwarded, 2, "cooldown must drop rapid repeats")
	require.GreaterOrEqual(t, forwarded, 1)
}

func TestMarkAsReadNotifiesOriginalSender(t *testing.T) {
	hub, server := newTestHub(t)

	author := dialTestUser(t, hub, server, "author")
	reader := dialTestUser(t, hub, server, "reader")

	require.NoError(t, reader.WriteJSON(Invocation{
		Action:    ActionMarkAsRead,
		MessageID: "m-42",
		SenderID:  "author",
	}))

	events := collectEvents(t, author, 500*time.Millisecond)
	var payload ReadPayload
	require.True(t, findEventData(events, EventMessageRead, &payload))
	require.Equal(t, "m-42", payload.MessageID)
	require.Equal(t, "reader", payload.ReaderID)
}

func TestOnlineUsersUpdateCarriesFullSet(t *testing.T) {
	hub, server := newTestHub(t)

	dialTestUser(t, hub, server, "alpha")
	observer := dialTestUser(t, hub, server, "beta")

	events := collectEvents(t, observer, 500*time.Millisecond)

	var latest OnlineUsersPayload
	require.True(t, findEventData(events, EventOnlineUsersUpdate, &latest))
	require.Equal(t, []string{"alpha", "beta"}, latest.UserIDs)
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(WithActionCooldown(500 * time.Millisecond))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(r.URL.Query().Get("user"), w, r)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dialTestUser(t *testing.T, hub *Hub, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.IsOnline(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

// collectEvents drains every event frame arriving within the window.
func collectEvents(t *testing.T, conn *websocket.Conn, window time.Duration) []Event {
	t.Helper()

	var events []Event
	deadline := time.Now().Add(window)
	for {
		_ = conn.SetReadDeadline(deadline)
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return events
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		// Re-decode Data lazily in findEventData; keep raw payload here.
		var typed struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(raw, &typed)
		events = append(events, Event{Event: typed.Event, Data: typed.Data})
	}
}

func countEvents(events []Event, name, userID string) int {
	count := 0
	for _, event := range events {
		if event.Event != name {
			continue
		}
		if userID == "" {
			count++
			continue
		}
		var payload PresencePayload
		if raw, ok := event.Data.(json.RawMessage); ok {
			if json.Unmarshal(raw, &payload) == nil && payload.UserID == userID {
				count++
			}
		}
	}
	return count
}

// findEventData decodes the payload of the LAST matching event into dest.
func findEventData(events []Event, name string, dest any) bool {
	found := false
	for _, event := range events {
		if event.Event != name {
			continue
		}
		raw, ok := event.Data.(json.RawMessage)
		if !ok {
			continue
		}
		if json.Unmarshal(raw, dest) == nil {
			found = true
		}
	}
	return found
}
