package client

import (
	"sync"
	"time"
)

// notifier rate-limits per-sender notifications. A sender who keeps messaging
// triggers at most one notification per cooldown window.
type notifier struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	lastSeen map[string]time.Time
}

func newNotifier(cooldown time.Duration, now func() time.Time) *notifier {
	return &notifier{
		cooldown: cooldown,
		now:      now,
		lastSeen: make(map[string]time.Time),
	}
}

// shouldNotify reports whether a notification for the sender is due and, if
// so, starts a new cooldown window. Expired entries are pruned on the way.
func (n *notifier) shouldNotify(senderID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for id, last := range n.lastSeen {
		if now.Sub(last) >= n.cooldown {
			delete(n.lastSeen, id)
		}
	}

	if _, cooling := n.lastSeen[senderID]; cooling {
		return false
	}
	n.lastSeen[senderID] = now
	return true
}
