package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Hub holds the authoritative tree of values and every live connection to
// it. It plays the server role: it applies writes, fans changes out to
// subscribers and runs disconnect hooks when a connection goes away.
type Hub struct {
	mu     sync.Mutex
	leaves map[string]json.RawMessage
	conns  map[*Conn]struct{}
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		leaves: make(map[string]json.RawMessage),
		conns:  make(map[*Conn]struct{}),
		now:    time.Now,
	}
}

// Connect opens a new connected client of the hub.
func (h *Hub) Connect() *Conn {
	c := &Conn{
		hub:       h,
		id:        uuid.NewString(),
		connected: true,
		subs:      make(map[uint64]*subscription),
		listeners: make(map[uint64]func(bool)),
		hooks:     make(map[string]json.RawMessage),
		events:    newDispatcher(),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	return c
}

// Value returns the current value at path.
func (h *Hub) Value(path string) json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	return assemble(cleanPath(path), h.leaves)
}

// Connections counts the open connections, connected or not.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.conns)
}

// Rooms lists the ids of rooms holding a script, sorted.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]string, 0)
	for path := range h.leaves {
		parts := strings.Split(path, "/")
		if len(parts) == 3 && parts[0] == "rooms" && parts[2] == "script" {
			rooms = append(rooms, parts[1])
		}
	}
	sort.Strings(rooms)

	return rooms
}

// write applies a resolved value and notifies every related subscriber.
// Callers hold h.mu.
func (h *Hub) write(path string, raw json.RawMessage) {
	applyWrite(h.leaves, path, raw)

	for c := range h.conns {
		if !c.connected {
			continue
		}
		for _, sub := range c.subs {
			if related(sub.path, path) {
				c.deliver(sub)
			}
		}
	}
}

// runHooks applies the disconnect hooks of c. Callers hold h.mu.
func (h *Hub) runHooks(c *Conn) {
	if len(c.hooks) == 0 {
		return
	}

	now := h.now().UnixMilli()
	for path, raw := range c.hooks {
		resolved, err := resolveServerValues(raw, now)
		if err != nil {
			logrus.Errorf("hub: skipping disconnect hook for %s: %v", path, err)
			continue
		}
		if bytes.Equal(resolved, null) {
			resolved = nil
		}
		h.write(path, resolved)
	}
	c.hooks = make(map[string]json.RawMessage)
}

type subscription struct {
	id        uint64
	path      string
	fn        func(Snapshot)
	last      json.RawMessage
	delivered bool
}

var _ Store = (*Conn)(nil)

// Conn is one participant connection to a Hub. All of its state is guarded
// by the hub lock.
type Conn struct {
	hub       *Hub
	id        string
	connected bool
	closed    bool
	nextID    uint64
	subs      map[uint64]*subscription
	listeners map[uint64]func(bool)
	hooks     map[string]json.RawMessage
	events    *dispatcher
}

func (c *Conn) ID() string {
	return c.id
}

// deliver queues the current value for sub if it changed since the last
// delivery. Callers hold the hub lock.
func (c *Conn) deliver(sub *subscription) {
	value := assemble(sub.path, c.hub.leaves)
	if sub.delivered && bytes.Equal(value, sub.last) {
		return
	}
	sub.delivered = true
	sub.last = value

	fn, snap := sub.fn, Snapshot{Path: sub.path, Value: value}
	c.events.enqueue(func() { fn(snap) })
}

func (c *Conn) notify(connected bool) {
	for _, fn := range c.listeners {
		fn := fn
		c.events.enqueue(func() { fn(connected) })
	}
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	sub := &subscription{id: c.nextID, path: cleanPath(path), fn: fn}
	c.subs[sub.id] = sub
	if c.connected {
		c.deliver(sub)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(c.subs, sub.id)
		})
	}, nil
}

func (c *Conn) Write(ctx context.Context, path string, value any) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.connected {
		return ErrDisconnected
	}

	raw, err := encode(value, h.now().UnixMilli())
	if err != nil {
		return err
	}
	h.write(cleanPath(path), raw)

	return nil
}

func (c *Conn) OnConnect(fn func(connected bool)) Unsubscribe {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	connected := c.connected
	c.events.enqueue(func() { fn(connected) })

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Conn) OnDisconnect(ctx context.Context, path string, value any) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	raw := null
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		raw = data
	}
	c.hooks[cleanPath(path)] = raw

	return nil
}

func (c *Conn) CancelDisconnect(ctx context.Context, path string) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	delete(c.hooks, cleanPath(path))

	return nil
}

// Drop cuts the connection without a clean exit. The hub runs the
// disconnect hooks; subscriptions stay registered and resume on Reconnect.
func (c *Conn) Drop() {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed || !c.connected {
		return
	}
	c.connected = false
	h.runHooks(c)
	c.notify(false)
}

// Reconnect restores a dropped connection and redelivers values that
// changed while it was away.
func (c *Conn) Reconnect() {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed || c.connected {
		return
	}
	c.connected = true
	c.notify(true)
	for _, sub := range c.subs {
		c.deliver(sub)
	}
}

// Close disconnects and releases the connection. Disconnect hooks run as
// for any other disconnect.
func (c *Conn) Close() error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.connected {
		c.connected = false
		h.runHooks(c)
		c.notify(false)
	}
	c.closed = true
	c.subs = make(map[uint64]*subscription)
	delete(h.conns, c)
	c.events.close()

	return nil
}
