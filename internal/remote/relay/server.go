package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	StorePath = "/v1/store"
	sendQueue = 64
)

// Server exposes a remote.Hub to participants over websockets. Every socket
// maps to one hub connection; when the socket goes away for any reason the
// hub runs that connection's disconnect hooks.
type Server struct {
	hub      *remote.Hub
	upgrader websocket.Upgrader
}

func NewServer(hub *remote.Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *remote.Hub {
	return s.hub
}

// Router returns the http routes of the relay.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestTimeMiddleware)
	r.Methods(http.MethodGet).Path(StorePath).HandlerFunc(s.ServeWS)
	r.Methods(http.MethodGet).Path("/v1/health").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"connections": s.hub.Connections()})
	})

	return r
}

func requestTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Infof("request time: %v %v: %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// client is one participant socket.
type client struct {
	conn *remote.Conn
	ws   *websocket.Conn
	send chan remote.Message
	mu   sync.Mutex
	subs map[uint64]remote.Unsubscribe
	done chan struct{}
	once sync.Once
}

func (c *client) enqueue(msg remote.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("relay: upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: s.hub.Connect(),
		ws:   ws,
		send: make(chan remote.Message, sendQueue),
		subs: make(map[uint64]remote.Unsubscribe),
		done: make(chan struct{}),
	}
	logrus.Infof("relay: connection %s opened", c.conn.ID())

	go s.writePump(c)
	s.readPump(r.Context(), c)
}

func (s *Server) writePump(c *client) {
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				logrus.Warnf("relay: write to %s failed: %v", c.conn.ID(), err)
				c.shutdown()
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, c *client) {
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
		logrus.Infof("relay: connection %s closed", c.conn.ID())
	}()

	for {
		var msg remote.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.Warnf("relay: connection %s dropped: %v", c.conn.ID(), err)
			}
			return
		}

		if err := s.handle(ctx, c, msg); err != nil {
			c.enqueue(remote.Message{Op: remote.OpError, ID: msg.ID, Path: msg.Path, Error: err.Error()})
		}
	}
}

func (s *Server) handle(ctx context.Context, c *client, msg remote.Message) error {
	switch msg.Op {
	case remote.OpSubscribe:
		id := msg.ID
		unsubscribe, err := c.conn.Subscribe(ctx, msg.Path, func(snap remote.Snapshot) {
			c.enqueue(remote.Message{Op: remote.OpValue, ID: id, Path: snap.Path, Value: snap.Value})
		})
		if err != nil {
			return err
		}
		c.mu.Lock()
		if old, ok := c.subs[id]; ok {
			old()
		}
		c.subs[id] = unsubscribe
		c.mu.Unlock()

	case remote.OpUnsubscribe:
		c.mu.Lock()
		if unsubscribe, ok := c.subs[msg.ID]; ok {
			unsubscribe()
			delete(c.subs, msg.ID)
		}
		c.mu.Unlock()

	case remote.OpWrite:
		return c.conn.Write(ctx, msg.Path, msg.Value)

	case remote.OpOnDisconnect:
		var value any
		if len(msg.Value) > 0 {
			if err := json.Unmarshal(msg.Value, &value); err != nil {
				return err
			}
		}
		return c.conn.OnDisconnect(ctx, msg.Path, value)

	case remote.OpCancelDisconnect:
		return c.conn.CancelDisconnect(ctx, msg.Path)

	default:
		logrus.Warnf("relay: unknown op %q from %s", msg.Op, c.conn.ID())
	}

	return nil
}
