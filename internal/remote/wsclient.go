package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const defaultRetry = 2 * time.Second

var _ Store = (*WSClient)(nil)

// WSClient is a Store backed by a relay server over a websocket. It redials
// after a dropped connection and replays its subscriptions and disconnect
// hooks once the socket is back.
type WSClient struct {
	url    string
	dialer *websocket.Dialer
	retry  time.Duration

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	nextID    uint64
	subs      map[uint64]*subscription
	listeners map[uint64]func(bool)
	hooks     map[string]json.RawMessage

	events *dispatcher
	done   chan struct{}
	wg     sync.WaitGroup
}

// DialWS starts connecting to the relay at url in the background.
func DialWS(ctx context.Context, url string) *WSClient {
	c := &WSClient{
		url:       url,
		dialer:    websocket.DefaultDialer,
		retry:     defaultRetry,
		subs:      make(map[uint64]*subscription),
		listeners: make(map[uint64]func(bool)),
		hooks:     make(map[string]json.RawMessage),
		events:    newDispatcher(),
		done:      make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()

	return c
}

func (c *WSClient) run() {
	for {
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			logrus.Warnf("relay client: dial %s: %v", c.url, err)
			select {
			case <-c.done:
				return
			case <-time.After(c.retry):
				continue
			}
		}

		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		c.readLoop(conn)
		c.detach()

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// attach makes conn current and replays subscriptions and hooks on it.
func (c *WSClient) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.conn = conn
	c.connected = true

	for path, raw := range c.hooks {
		c.sendLocked(Message{Op: OpOnDisconnect, Path: path, Value: raw})
	}
	for _, sub := range c.subs {
		c.sendLocked(Message{Op: OpSubscribe, ID: sub.id, Path: sub.path})
	}
	c.notifyLocked(true)

	return true
}

func (c *WSClient) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
	if c.connected {
		c.connected = false
		c.notifyLocked(false)
	}
}

func (c *WSClient) notifyLocked(connected bool) {
	for _, fn := range c.listeners {
		fn := fn
		c.events.enqueue(func() { fn(connected) })
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				logrus.Warnf("relay client: connection lost: %v", err)
			}
			return
		}

		switch msg.Op {
		case OpValue:
			c.received(msg)
		case OpError:
			logrus.Warnf("relay client: relay error: %s", msg.Error)
		}
	}
}

func (c *WSClient) received(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[msg.ID]
	if !ok {
		return
	}

	value := msg.Value
	if bytes.Equal(value, null) {
		value = nil
	}
	if sub.delivered && bytes.Equal(value, sub.last) {
		return
	}
	sub.delivered = true
	sub.last = value

	fn, snap := sub.fn, Snapshot{Path: sub.path, Value: value}
	c.events.enqueue(func() { fn(snap) })
}

// sendLocked writes msg on the current socket. Callers hold c.mu.
func (c *WSClient) sendLocked(msg Message) error {
	if c.conn == nil {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(msg)
}

func (c *WSClient) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	sub := &subscription{id: c.nextID, path: cleanPath(path), fn: fn}
	c.subs[sub.id] = sub
	if c.connected {
		if err := c.sendLocked(Message{Op: OpSubscribe, ID: sub.id, Path: sub.path}); err != nil {
			logrus.Warnf("relay client: subscribe %s: %v", sub.path, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, sub.id)
			if c.connected {
				_ = c.sendLocked(Message{Op: OpUnsubscribe, ID: sub.id})
			}
		})
	}, nil
}

func (c *WSClient) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.connected {
		return ErrDisconnected
	}

	return c.sendLocked(Message{Op: OpWrite, Path: cleanPath(path), Value: raw})
}

func (c *WSClient) OnConnect(fn func(connected bool)) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	connected := c.connected
	c.events.enqueue(func() { fn(connected) })

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *WSClient) OnDisconnect(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.hooks[cleanPath(path)] = raw
	if c.connected {
		return c.sendLocked(Message{Op: OpOnDisconnect, Path: cleanPath(path), Value: raw})
	}

	return nil
}

func (c *WSClient) CancelDisconnect(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	delete(c.hooks, cleanPath(path))
	if c.connected {
		return c.sendLocked(Message{Op: OpCancelDisconnect, Path: cleanPath(path)})
	}

	return nil
}

// Close ends the session with a close frame; the relay then runs the
// registered disconnect hooks.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)

	var err error
	if c.conn != nil {
		c.writeMu.Lock()
		err = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.events.close()

	return err
}
