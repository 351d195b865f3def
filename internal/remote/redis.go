package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRedisPrefix = "panelcraft:"
	// DefaultLiveness is how long a connection stays alive without a heartbeat.
	DefaultLiveness = 15 * time.Second
)

func leafKey(prefix, path string) string {
	return prefix + "leaf:" + path
}

func changesChannel(prefix string) string {
	return prefix + "changes"
}

func aliveKey(prefix, id string) string {
	return prefix + "alive:" + id
}

func hooksKey(prefix, id string) string {
	return prefix + "hooks:" + id
}

func connsKey(prefix string) string {
	return prefix + "conns"
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps every leaf value under its own key and announces changed
// paths on a pub/sub channel. Liveness is a heartbeat key with a TTL; a
// Reaper runs the disconnect hooks of connections whose heartbeat expired.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	id       string
	liveness time.Duration

	mu        sync.Mutex
	nextID    uint64
	subs      map[uint64]*subscription
	listeners map[uint64]func(bool)
	connected bool
	closed    bool

	events *dispatcher
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisStore registers a new connection and starts its heartbeat and
// change feed.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string) (*RedisStore, error) {
	return newRedisStore(ctx, client, prefix, DefaultLiveness)
}

func newRedisStore(ctx context.Context, client *redis.Client, prefix string, liveness time.Duration) (*RedisStore, error) {
	pubsub := client.Subscribe(ctx, changesChannel(prefix))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &RedisStore{
		client:    client,
		prefix:    prefix,
		id:        uuid.NewString(),
		liveness:  liveness,
		subs:      make(map[uint64]*subscription),
		listeners: make(map[uint64]func(bool)),
		events:    newDispatcher(),
		pubsub:    pubsub,
		cancel:    cancel,
	}

	r.heartbeat(runCtx)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.keepAlive(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.listen(runCtx)
	}()

	return r, nil
}

func (r *RedisStore) ID() string {
	return r.id
}

func (r *RedisStore) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(r.liveness / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

// heartbeat refreshes the liveness key and reports connectivity changes.
// Finding this connection missing from the registry while connected means a
// Reaper already ran its hooks: that is reported as a disconnect followed by
// a reconnect, so listeners publish their state and hooks again.
func (r *RedisStore) heartbeat(ctx context.Context) {
	var added *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, aliveKey(r.prefix, r.id), 1, r.liveness)
		added = p.SAdd(ctx, connsKey(r.prefix), r.id)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logrus.Warnf("redis store: heartbeat failed: %v", err)
	}

	if err == nil && added.Val() == 1 && r.isConnected() {
		logrus.Warnf("redis store: connection %s was reaped", r.id)
		r.setConnected(false)
	}
	r.setConnected(err == nil)
}

func (r *RedisStore) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connected
}

func (r *RedisStore) setConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.connected == connected {
		return
	}
	r.connected = connected
	for _, fn := range r.listeners {
		fn := fn
		r.events.enqueue(func() { fn(connected) })
	}
	if connected {
		for _, sub := range r.subs {
			r.refresh(context.Background(), sub)
		}
	}
}

func (r *RedisStore) listen(ctx context.Context) {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.changed(ctx, msg.Payload)
		}
	}
}

func (r *RedisStore) changed(ctx context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return
	}
	for _, sub := range r.subs {
		if related(sub.path, path) {
			r.refresh(ctx, sub)
		}
	}
}

// refresh reads the value for sub and queues it when it changed. Callers
// hold r.mu.
func (r *RedisStore) refresh(ctx context.Context, sub *subscription) {
	value, err := r.read(ctx, sub.path)
	if err != nil {
		logrus.Warnf("redis store: failed to read %s: %v", sub.path, err)
		return
	}
	if sub.delivered && bytes.Equal(value, sub.last) {
		return
	}
	sub.delivered = true
	sub.last = value

	fn, snap := sub.fn, Snapshot{Path: sub.path, Value: value}
	r.events.enqueue(func() { fn(snap) })
}

func (r *RedisStore) read(ctx context.Context, path string) (json.RawMessage, error) {
	res := r.client.Get(ctx, leafKey(r.prefix, path))
	if res.Err() == nil {
		return json.RawMessage(res.Val()), nil
	}
	if !errors.Is(res.Err(), redis.Nil) {
		return nil, res.Err()
	}

	keys, err := r.scanLeaves(ctx, path)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	leaves := make(map[string]json.RawMessage, len(keys))
	for i, key := range keys {
		if s, ok := values[i].(string); ok {
			leaves[strings.TrimPrefix(key, leafKey(r.prefix, ""))] = json.RawMessage(s)
		}
	}

	return assemble(path, leaves), nil
}

func (r *RedisStore) scanLeaves(ctx context.Context, path string) ([]string, error) {
	return scanLeaves(ctx, r.client, r.prefix, path)
}

func scanLeaves(ctx context.Context, client *redis.Client, prefix, path string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, globEscaper.Replace(leafKey(prefix, path))+"/*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	return keys, iter.Err()
}

func (r *RedisStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	r.nextID++
	sub := &subscription{id: r.nextID, path: cleanPath(path), fn: fn}
	r.subs[sub.id] = sub
	if r.connected {
		r.refresh(ctx, sub)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, sub.id)
		})
	}, nil
}

func (r *RedisStore) Write(ctx context.Context, path string, value any) error {
	r.mu.Lock()
	closed, connected := r.closed, r.connected
	r.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrDisconnected
	}

	raw, err := encode(value, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	return writeLeaf(ctx, r.client, r.prefix, cleanPath(path), raw)
}

// writeLeafScript replaces a subtree in one step. KEYS[1] is the leaf at the
// written path and the remaining keys are its ancestors; ARGV holds the
// pattern matching the leaves below, the channel, the path, a set flag and
// the value.
var writeLeafScript = redis.NewScript(`
local cursor = "0"
repeat
	local res = redis.call("SCAN", cursor, "MATCH", ARGV[1], "COUNT", 100)
	cursor = res[1]
	for _, key in ipairs(res[2]) do
		redis.call("DEL", key)
	end
until cursor == "0"
redis.call("DEL", unpack(KEYS))
if ARGV[4] == "1" then
	redis.call("SET", KEYS[1], ARGV[5])
end
redis.call("PUBLISH", ARGV[2], ARGV[3])
return 1
`)

// writeLeaf replaces the subtree at path and announces the change.
func writeLeaf(ctx context.Context, client *redis.Client, prefix, path string, raw json.RawMessage) error {
	keys := []string{leafKey(prefix, path)}
	for _, a := range ancestors(path) {
		keys = append(keys, leafKey(prefix, a))
	}

	set := "0"
	if raw != nil {
		set = "1"
	}
	below := globEscaper.Replace(leafKey(prefix, path)) + "/*"

	return writeLeafScript.Run(ctx, client, keys, below, changesChannel(prefix), path, set, []byte(raw)).Err()
}

func (r *RedisStore) OnConnect(fn func(connected bool)) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	connected := r.connected
	r.events.enqueue(func() { fn(connected) })

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *RedisStore) OnDisconnect(ctx context.Context, path string, value any) error {
	raw := null
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		raw = data
	}

	return r.client.HSet(ctx, hooksKey(r.prefix, r.id), cleanPath(path), []byte(raw)).Err()
}

func (r *RedisStore) CancelDisconnect(ctx context.Context, path string) error {
	return r.client.HDel(ctx, hooksKey(r.prefix, r.id), cleanPath(path)).Err()
}

// Close runs this connection's disconnect hooks and stops its goroutines.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.subs = make(map[uint64]*subscription)
	r.mu.Unlock()

	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if hookErr := runRedisHooks(ctx, r.client, r.prefix, r.id); hookErr != nil {
		err = errors.Join(err, hookErr)
	}
	r.events.close()

	return err
}

// runRedisHooks applies and forgets the disconnect hooks of connection id.
func runRedisHooks(ctx context.Context, client *redis.Client, prefix, id string) error {
	hooks, err := client.HGetAll(ctx, hooksKey(prefix, id)).Result()
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for path, value := range hooks {
		raw, err := resolveServerValues(json.RawMessage(value), now)
		if err != nil {
			logrus.Errorf("redis store: skipping disconnect hook for %s: %v", path, err)
			continue
		}
		if bytes.Equal(raw, null) {
			raw = nil
		}
		if err := writeLeaf(ctx, client, prefix, path, raw); err != nil {
			return err
		}
	}

	_, err = client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, hooksKey(prefix, id), aliveKey(prefix, id))
		p.SRem(ctx, connsKey(prefix), id)
		return nil
	})

	return err
}
