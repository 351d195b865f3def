package session

import (
	"context"
	"sync"

	"github.com/emrgen/panelcraft/internal/model"
	"github.com/emrgen/panelcraft/internal/presence"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Offline State = iota
	Joining
	Live
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Joining:
		return "joining"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// Document is the local owner of the current snapshot.
type Document interface {
	Snapshot() *model.Script
	// Replace swaps in next if the current snapshot is still expected.
	Replace(expected, next *model.Script) bool
}

type Participant struct {
	ID    string
	Name  string
	Color string
}

// presenceRecord is the wire form of a presence write; LastActive carries
// the server timestamp placeholder.
type presenceRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	LastActive any    `json:"lastActive"`
	IsTyping   bool   `json:"isTyping"`
}

type Option func(*Session)

// WithStateListener registers fn to be called after every state transition.
// fn runs outside the session lock.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) {
		s.listeners = append(s.listeners, fn)
	}
}

// Session is one participant's membership in a room. Remote callbacks that
// belong to an earlier Join are recognised by their epoch and ignored.
type Session struct {
	store     remote.Store
	doc       Document
	roster    *presence.Roster
	listeners []func(State)

	mu        sync.Mutex
	self      Participant
	typing    bool
	state     State
	roomID    string
	epoch     uint64
	unsubs    []remote.Unsubscribe
	pending   *model.Script
	published bool
}

func New(store remote.Store, self Participant, doc Document, roster *presence.Roster, opts ...Option) *Session {
	if roster == nil {
		roster = presence.NewRoster()
	}

	s := &Session{
		store:  store,
		doc:    doc,
		roster: roster,
		self:   self,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Live() bool {
	return s.State() == Live
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.roomID
}

func (s *Session) Self() Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.self
}

// Participants lists the presence records of the current room ordered by id.
func (s *Session) Participants() []model.Collaborator {
	return s.roster.Participants(s.RoomID())
}

func (s *Session) emit(state State) {
	for _, fn := range s.listeners {
		fn(state)
	}
}

// Join leaves any current room and starts joining roomID. The session turns
// Live when the store reports it is connected.
func (s *Session) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoRoom
	}
	if err := s.Leave(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.state = Joining
	s.roomID = roomID
	s.pending = nil
	s.typing = false

	unsubDoc, err := s.store.Subscribe(ctx, remote.ScriptPath(roomID), func(snap remote.Snapshot) {
		s.onScript(epoch, snap)
	})
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		return err
	}
	unsubPresence, err := s.store.Subscribe(ctx, remote.PresencePath(roomID), func(snap remote.Snapshot) {
		s.onPresence(epoch, snap)
	})
	if err != nil {
		unsubDoc()
		s.resetLocked()
		s.mu.Unlock()
		return err
	}
	unsubConn := s.store.OnConnect(func(connected bool) {
		s.onConnect(epoch, connected)
	})
	s.unsubs = []remote.Unsubscribe{unsubDoc, unsubPresence, unsubConn}
	s.mu.Unlock()

	logrus.Infof("session: %s joining room %s", s.self.ID, roomID)
	s.emit(Joining)

	return nil
}

// Leave cancels the room subscriptions and deletes this participant's
// presence record together with its disconnect hook. The delete is issued,
// not awaited. If the store is unreachable the delete is held until the
// store connects again.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Offline {
		s.mu.Unlock()
		return nil
	}

	roomID, selfID := s.roomID, s.self.ID
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	if s.published {
		if err := s.removePresenceLocked(ctx, roomID, selfID); err != nil {
			logrus.Warnf("session: failed to remove presence of %s, retrying on reconnect: %v", selfID, err)
			s.removePresenceOnConnectLocked(roomID, selfID)
		}
	}
	s.roster.Clear(roomID)
	s.resetLocked()
	s.mu.Unlock()

	logrus.Infof("session: %s left room %s", s.self.ID, roomID)
	s.emit(Offline)

	return nil
}

func (s *Session) resetLocked() {
	s.epoch++
	s.state = Offline
	s.roomID = ""
	s.unsubs = nil
	s.pending = nil
	s.typing = false
	s.published = false
}

func (s *Session) removePresenceLocked(ctx context.Context, roomID, selfID string) error {
	path := remote.ParticipantPath(roomID, selfID)
	if err := s.store.Write(ctx, path, nil); err != nil {
		return err
	}
	if err := s.store.CancelDisconnect(ctx, path); err != nil {
		logrus.Warnf("session: failed to cancel disconnect cleanup for %s: %v", selfID, err)
	}

	return nil
}

// removePresenceOnConnectLocked deletes the presence record left in roomID
// the next time the store reports connected, unless the session is back in
// that room by then.
func (s *Session) removePresenceOnConnectLocked(roomID, selfID string) {
	var done bool
	var unsubscribe remote.Unsubscribe
	unsubscribe = s.store.OnConnect(func(connected bool) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if done || !connected {
			return
		}
		rejoined := s.state != Offline && s.roomID == roomID && s.self.ID == selfID
		if !rejoined {
			if err := s.removePresenceLocked(context.Background(), roomID, selfID); err != nil {
				logrus.Warnf("session: failed to remove presence of %s: %v", selfID, err)
				return
			}
			logrus.Infof("session: removed stale presence of %s in room %s", selfID, roomID)
		}
		done = true
		unsubscribe()
	})
}

// Broadcast overwrites the room document with doc. Whatever participant
// writes last wins the whole document.
func (s *Session) Broadcast(ctx context.Context, doc *model.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Live {
		return ErrNotLive
	}

	return s.store.Write(ctx, remote.ScriptPath(s.roomID), doc)
}

// SetTyping publishes the typing flag. It is a no-op unless Live.
func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.typing = typing
	if s.state != Live {
		return nil
	}

	return s.writePresenceLocked(ctx)
}

// Rename changes the display name and republishes presence when Live.
func (s *Session) Rename(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.self.Name = name
	if s.state != Live {
		return nil
	}

	return s.writePresenceLocked(ctx)
}

func (s *Session) writePresenceLocked(ctx context.Context) error {
	return s.store.Write(ctx, remote.ParticipantPath(s.roomID, s.self.ID), presenceRecord{
		ID:         s.self.ID,
		Name:       s.self.Name,
		Color:      s.self.Color,
		LastActive: remote.ServerTimestamp,
		IsTyping:   s.typing,
	})
}

func (s *Session) onConnect(epoch uint64, connected bool) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}

	var next State
	var pending *model.Script
	switch {
	case connected && s.state == Joining:
		ctx := context.Background()
		s.typing = false
		if err := s.writePresenceLocked(ctx); err != nil {
			logrus.Warnf("session: failed to publish presence of %s: %v", s.self.ID, err)
		}
		path := remote.ParticipantPath(s.roomID, s.self.ID)
		if err := s.store.OnDisconnect(ctx, path, nil); err != nil {
			logrus.Warnf("session: failed to register disconnect cleanup for %s: %v", s.self.ID, err)
		}
		s.published = true
		s.state = Live
		next = Live
		pending, s.pending = s.pending, nil
		logrus.Infof("session: %s is live in room %s", s.self.ID, s.roomID)

	case !connected && s.state == Live:
		s.state = Joining
		next = Joining
		logrus.Warnf("session: %s lost connection to room %s", s.self.ID, s.roomID)

	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if pending != nil {
		s.apply(pending)
	}
	s.emit(next)
}

func (s *Session) onScript(epoch uint64, snap remote.Snapshot) {
	s.mu.Lock()
	if epoch != s.epoch || !snap.Exists() {
		s.mu.Unlock()
		return
	}

	next, err := model.ParseScript(snap.Value)
	if err != nil {
		logrus.Warnf("session: ignoring malformed document in room %s: %v", s.roomID, err)
		s.mu.Unlock()
		return
	}

	if s.state == Joining {
		s.pending = next
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.apply(next)
}

// apply replaces the local snapshot with next unless they are already equal,
// which is what keeps our own broadcast echo from counting as an edit. It
// runs on the store callback goroutine without the session lock.
func (s *Session) apply(next *model.Script) {
	for {
		current := s.doc.Snapshot()
		if model.Equal(current, next) {
			return
		}
		if s.doc.Replace(current, next) {
			return
		}
	}
}

func (s *Session) onPresence(epoch uint64, snap remote.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}

	records := map[string]model.Collaborator{}
	if snap.Exists() {
		if err := snap.Decode(&records); err != nil {
			logrus.Warnf("session: ignoring malformed presence in room %s: %v", s.roomID, err)
			return
		}
	}
	s.roster.Update(s.roomID, records)
}
