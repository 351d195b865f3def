package remote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/panelcraft/internal/tester"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) (*redis.Client, string) {
	client := tester.Redis()
	if client == nil {
		t.Skip("REDIS_ADDR not set")
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, "panelcraft-test:" + uuid.NewString()[:8] + ":"
}

func TestRedisStore_WriteAndSubscribe(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	a, err := newRedisStore(ctx, client, prefix, time.Second)
	require.NoError(t, err)
	defer a.Close()
	b, err := newRedisStore(ctx, client, prefix, time.Second)
	require.NoError(t, err)
	defer b.Close()

	rec := &recorder{}
	_, err = b.Subscribe(ctx, PresencePath("r1"), rec.record)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)

	require.NoError(t, a.Write(ctx, ParticipantPath("r1", "a"), map[string]any{"id": "a", "lastActive": ServerTimestamp}))

	assert.Eventually(t, func() bool { return rec.last().Exists() }, 2*time.Second, tick)
	var records map[string]map[string]any
	require.NoError(t, rec.last().Decode(&records))
	assert.Equal(t, "a", records["a"]["id"])
	assert.IsType(t, float64(0), records["a"]["lastActive"])
}

func TestRedisStore_CloseRunsHooks(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	leaving, err := newRedisStore(ctx, client, prefix, time.Second)
	require.NoError(t, err)
	staying, err := newRedisStore(ctx, client, prefix, time.Second)
	require.NoError(t, err)
	defer staying.Close()

	path := ParticipantPath("r1", "leaving")
	require.NoError(t, leaving.Write(ctx, path, map[string]string{"id": "leaving"}))
	require.NoError(t, leaving.OnDisconnect(ctx, path, nil))

	rec := &recorder{}
	_, err = staying.Subscribe(ctx, PresencePath("r1"), rec.record)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return rec.last().Exists() }, 2*time.Second, tick)

	require.NoError(t, leaving.Close())
	assert.Eventually(t, func() bool { return rec.count() == 2 && !rec.last().Exists() }, 2*time.Second, tick)
}

func TestReaper_CleansExpiredConnections(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	path := ParticipantPath("r1", "ghost")
	require.NoError(t, writeLeaf(ctx, client, prefix, path, []byte(`{"id":"ghost"}`)))
	require.NoError(t, client.HSet(ctx, hooksKey(prefix, "ghost"), path, "null").Err())
	require.NoError(t, client.SAdd(ctx, connsKey(prefix), "ghost").Err())

	live, err := newRedisStore(ctx, client, prefix, 5*time.Second)
	require.NoError(t, err)
	defer live.Close()

	reaped, err := NewReaper(client, prefix, "@every 1m").Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	exists, err := client.Exists(ctx, leafKey(prefix, path)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	members, err := client.SMembers(ctx, connsKey(prefix)).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{live.ID()}, members)
}

func TestRedisStore_ReapedConnectionReconnects(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	store, err := newRedisStore(ctx, client, prefix, 300*time.Millisecond)
	require.NoError(t, err)
	defer store.Close()

	var mu sync.Mutex
	var transitions []bool
	store.OnConnect(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, connected)
	})

	path := ParticipantPath("r1", "sleeper")
	require.NoError(t, store.Write(ctx, path, map[string]string{"id": "sleeper"}))
	require.NoError(t, store.OnDisconnect(ctx, path, nil))

	// the process was suspended past its liveness and a reaper cleaned up
	require.NoError(t, runRedisHooks(ctx, client, prefix, store.ID()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual([]bool{true, false, true}, transitions)
	}, 2*time.Second, tick)

	members, err := client.SMembers(ctx, connsKey(prefix)).Result()
	require.NoError(t, err)
	assert.Contains(t, members, store.ID())
}

func TestRedisStore_CancelDisconnect(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	leaving, err := newRedisStore(ctx, client, prefix, time.Second)
	require.NoError(t, err)

	path := ParticipantPath("r1", "leaving")
	require.NoError(t, leaving.Write(ctx, path, map[string]string{"id": "leaving"}))
	require.NoError(t, leaving.OnDisconnect(ctx, path, nil))
	require.NoError(t, leaving.CancelDisconnect(ctx, path))

	hooks, err := client.HLen(ctx, hooksKey(prefix, leaving.ID())).Result()
	require.NoError(t, err)
	assert.Zero(t, hooks)

	require.NoError(t, leaving.Close())
	exists, err := client.Exists(ctx, leafKey(prefix, path)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestWriteLeaf_ParentAndChildNeverCoexist(t *testing.T) {
	ctx := context.TODO()
	client, prefix := redisClient(t)

	parent := PresencePath("r1")
	child := ParticipantPath("r1", "a")

	var wg sync.WaitGroup
	for _, w := range []struct {
		path string
		raw  string
	}{
		{parent, `{"b":{"id":"b"}}`},
		{child, `{"id":"a"}`},
	} {
		wg.Add(1)
		go func(path, raw string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.NoError(t, writeLeaf(ctx, client, prefix, path, []byte(raw)))
			}
		}(w.path, w.raw)
	}
	wg.Wait()

	leaves, err := client.Exists(ctx, leafKey(prefix, parent), leafKey(prefix, child)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), leaves)
}
