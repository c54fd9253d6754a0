package client

import (
	"sync"
	"time"
)

// DefaultTypingQuietPeriod is how long after the last keystroke the typing
// indicator is withdrawn.
const DefaultTypingQuietPeriod = 2 * time.Second

// TypingDebouncer turns raw keystrokes into Typing / StopTyping signals.
// Every keystroke sends Typing to the recipient; StopTyping fires once the
// composer has been quiet for the configured period. Switching recipients
// stops the previous indicator immediately.
type TypingDebouncer struct {
	mu          sync.Mutex
	quietPeriod time.Duration
	sendTyping  func(recipientID string)
	sendStop    func(recipientID string)

	active string
	timer  *time.Timer
}

// NewTypingDebouncer wires the debouncer to the two hub invocations.
func NewTypingDebouncer(sendTyping, sendStop func(recipientID string), quietPeriod time.Duration) *TypingDebouncer {
	if quietPeriod <= 0 {
		quietPeriod = DefaultTypingQuietPeriod
	}
	return &TypingDebouncer{
		quietPeriod: quietPeriod,
		sendTyping:  sendTyping,
		sendStop:    sendStop,
	}
}

// Keystroke records activity in the composer for the given recipient.
func (d *TypingDebouncer) Keystroke(recipientID string) {
	d.mu.Lock()

	if d.active != "" && d.active != recipientID {
		d.stopLocked()
	}
	d.active = recipientID

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quietPeriod, d.quiet)
	d.mu.Unlock()

	if d.sendTyping != nil {
		d.sendTyping(recipientID)
	}
}

// Flush withdraws any outstanding typing indicator, e.g. when the message is
// actually sent or the conversation closes.
func (d *TypingDebouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.stopLocked()
}

func (d *TypingDebouncer) quiet() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *TypingDebouncer) stopLocked() {
	if d.active == "" {
		return
	}
	recipientID := d.active
	d.active = ""
	if d.sendStop != nil {
		d.sendStop(recipientID)
	}
}
