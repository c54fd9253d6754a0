package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifierCooldownWindow(t *testing.T) {
	clock := newFakeClock()
	n := newNotifier(3*time.Minute, clock.now)

	require.True(t, n.shouldNotify("alice"))
	require.False(t, n.shouldNotify("alice"))

	clock.advance(time.Minute)
	require.False(t, n.shouldNotify("alice"))

	clock.advance(2 * time.Minute)
	require.True(t, n.shouldNotify("alice"))
}

func TestNotifierTracksSendersIndependently(t *testing.T) {
	clock := newFakeClock()
	n := newNotifier(3*time.Minute, clock.now)

	require.True(t, n.shouldNotify("alice"))
	require.True(t, n.shouldNotify("bob"))
	require.False(t, n.shouldNotify("alice"))
	require.False(t, n.shouldNotify("bob"))
}

func TestNotifierPrunesExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	n := newNotifier(time.Minute, clock.now)

	require.True(t, n.shouldNotify("alice"))
	require.True(t, n.shouldNotify("bob"))
	require.Len(t, n.lastSeen, 2)

	clock.advance(2 * time.Minute)
	require.True(t, n.shouldNotify("carol"))
	// alice and bob lapsed; only carol remains on cooldown.
	require.Len(t, n.lastSeen, 1)
}
