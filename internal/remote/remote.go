package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	redis "github.com/redis/go-redis/v9"
)

var (
	// ErrDisconnected is returned by writes issued while the store is offline.
	ErrDisconnected = errors.New("remote store is disconnected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("remote store is closed")
	// ErrUnsupportedURL is returned by Dial for unknown schemes.
	ErrUnsupportedURL = errors.New("unsupported remote store url")
)

// ServerTimestamp is a placeholder value the store replaces with its own
// clock, in unix milliseconds, when the write is applied.
var ServerTimestamp = map[string]string{".sv": "timestamp"}

// Unsubscribe cancels a subscription or listener. It is safe to call twice.
type Unsubscribe func()

// Snapshot is the value at a path. A missing value has a nil Value.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && string(s.Value) != "null"
}

func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.Value, v)
}

// Store is a hierarchical, real time data store shared by every participant.
// Callbacks of one Store are invoked one at a time, in delivery order, on a
// goroutine owned by the store.
type Store interface {
	// Subscribe delivers the current value at path and then every change of
	// it until the returned Unsubscribe is called.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	// Write replaces the value at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error
	// OnConnect reports the current connectivity and every transition.
	OnConnect(fn func(connected bool)) Unsubscribe
	// OnDisconnect registers a write the store performs on its side when this
	// connection goes away.
	OnDisconnect(ctx context.Context, path string, value any) error
	// CancelDisconnect drops the disconnect write registered for path.
	CancelDisconnect(ctx context.Context, path string) error
	Close() error
}

func ScriptPath(roomID string) string {
	return "rooms/" + roomID + "/script"
}

func PresencePath(roomID string) string {
	return "rooms/" + roomID + "/presence"
}

func ParticipantPath(roomID, participantID string) string {
	return PresencePath(roomID) + "/" + participantID
}

// Dial opens the store addressed by rawURL: redis:// and rediss:// select
// RedisStore, ws:// and wss:// select the relay client.
func Dial(ctx context.Context, rawURL string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(ctx, redis.NewClient(opts), DefaultRedisPrefix)
	case "ws", "wss":
		return DialWS(ctx, rawURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
}
