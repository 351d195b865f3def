package presence

import (
	"sync"
	"time"
)

const DefaultQuiet = 1500 * time.Millisecond

// Typing turns a stream of local edits into at most one true/false pair of
// typing writes per burst. The first Pulse of a burst publishes true; the
// burst ends when no Pulse arrives for the quiet window, which publishes
// false.
type Typing struct {
	mu      sync.Mutex
	quiet   time.Duration
	publish func(typing bool)
	sent    bool
	timer   *time.Timer
	gen     uint64
}

func NewTyping(quiet time.Duration, publish func(typing bool)) *Typing {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	return &Typing{
		quiet:   quiet,
		publish: publish,
	}
}

// Pulse records one local edit.
func (t *Typing) Pulse() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.sent {
		t.sent = true
		t.publish(true)
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, func() { t.expire(gen) })
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.sent {
		return
	}
	t.sent = false
	t.timer = nil
	t.publish(false)
}

// Reset publishes false whatever the current state and cancels the quiet
// timer. Used on session teardown.
func (t *Typing) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.sent = false
	t.publish(false)
}

// Active reports whether a true has been published and not yet cleared.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sent
}
