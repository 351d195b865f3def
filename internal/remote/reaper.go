package remote

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Reaper runs the disconnect hooks of redis connections whose heartbeat
// expired, which is how presence records of crashed participants go away.
type Reaper struct {
	client   *redis.Client
	prefix   string
	schedule string
}

func NewReaper(client *redis.Client, prefix, schedule string) *Reaper {
	return &Reaper{
		client:   client,
		prefix:   prefix,
		schedule: schedule,
	}
}

func (r *Reaper) Schedule() string {
	return r.schedule
}

func (r *Reaper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reaped, err := r.Reap(ctx)
	if err != nil {
		logrus.Errorf("reaper: %v", err)
		return
	}
	if reaped > 0 {
		logrus.Infof("reaper: cleaned up %d dead connections", reaped)
	}
}

// Reap cleans every registered connection without a live heartbeat.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	ids, err := r.client.SMembers(ctx, connsKey(r.prefix)).Result()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		alive, err := r.client.Exists(ctx, aliveKey(r.prefix, id)).Result()
		if err != nil {
			return reaped, err
		}
		if alive > 0 {
			continue
		}

		if err := runRedisHooks(ctx, r.client, r.prefix, id); err != nil {
			return reaped, err
		}
		reaped++
	}

	return reaped, nil
}
