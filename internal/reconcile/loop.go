package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/emrgen/panelcraft/internal/model"
	"github.com/sirupsen/logrus"
)

const DefaultDelay = 1000 * time.Millisecond

// Origin tells the loop where a scheduled snapshot came from. Only local
// snapshots are broadcast; remote ones are already the room's value.
type Origin int

const (
	Local Origin = iota
	Remote
)

type Persister interface {
	SaveCurrent(ctx context.Context, script *model.Script) error
	UpsertHistory(ctx context.Context, script *model.Script) ([]*model.Script, error)
}

type Publisher interface {
	Live() bool
	Broadcast(ctx context.Context, script *model.Script) error
}

type Option func(*Loop)

func WithDelay(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.delay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// WithPublisher makes flushes broadcast local changes while the publisher is
// live.
func WithPublisher(p Publisher) Option {
	return func(l *Loop) {
		l.publish = p
	}
}

// Loop coalesces bursts of mutations into one flush: a persist of the
// stamped snapshot, a history upsert for non-trivial scripts and, for local
// changes while live, a broadcast.
type Loop struct {
	persist Persister
	publish Publisher
	delay   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current *model.Script
	unsaved bool
	dirty   bool
	timer   *time.Timer
	gen     uint64
	stopped bool
	saved   *model.Script

	flushMu sync.Mutex
}

func New(persist Persister, opts ...Option) *Loop {
	l := &Loop{
		persist: persist,
		delay:   DefaultDelay,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Schedule records doc as the latest snapshot and restarts the debounce
// timer.
func (l *Loop) Schedule(doc *model.Script, origin Origin) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || doc == nil {
		return
	}
	l.current = doc
	l.unsaved = true
	l.dirty = origin == Local
	l.restartLocked()
}

// Kick schedules a flush for a local change that has not been broadcast yet,
// as when the publisher has just gone live.
func (l *Loop) Kick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || !l.dirty {
		return
	}
	l.restartLocked()
}

func (l *Loop) restartLocked() {
	l.gen++
	gen := l.gen
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.delay, func() { l.fire(gen) })
}

func (l *Loop) fire(gen uint64) {
	l.mu.Lock()
	stale := gen != l.gen || l.stopped
	l.mu.Unlock()
	if stale {
		return
	}

	if err := l.Flush(context.Background()); err != nil {
		logrus.Errorf("reconcile: flush failed: %v", err)
	}
}

// Flush runs the pending work now and cancels the timer.
func (l *Loop) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	doc, unsaved, dirty := l.current, l.unsaved, l.dirty
	l.unsaved = false
	l.mu.Unlock()

	if doc == nil {
		return nil
	}

	if unsaved {
		stamped := doc.Stamped(l.now())
		if err := l.persist.SaveCurrent(ctx, stamped); err != nil {
			l.markUnsaved(doc)
			return err
		}
		if !stamped.IsTrivial() {
			if _, err := l.persist.UpsertHistory(ctx, stamped); err != nil {
				logrus.Warnf("reconcile: failed to update history: %v", err)
			}
		}

		l.mu.Lock()
		l.saved = stamped
		l.mu.Unlock()
	}

	if !dirty || l.publish == nil || !l.publish.Live() {
		return nil
	}

	// the in-memory snapshot goes out unstamped so its echo compares equal
	if err := l.publish.Broadcast(ctx, doc); err != nil {
		logrus.Warnf("reconcile: broadcast failed: %v", err)
		return nil
	}

	l.mu.Lock()
	if l.current == doc {
		l.dirty = false
	}
	l.mu.Unlock()

	return nil
}

func (l *Loop) markUnsaved(doc *model.Script) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == doc {
		l.unsaved = true
	}
}

// Pending reports whether a flush is scheduled.
func (l *Loop) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.timer != nil && !l.stopped
}

// LastSaved returns the last persisted, stamped snapshot.
func (l *Loop) LastSaved() *model.Script {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.saved
}

// Stop cancels the timer. Later Schedule calls are ignored.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
