package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/sirupsen/logrus"
)

// ArchiveIndexKey lists the ids of every archived room.
const ArchiveIndexKey = "relay-archive-rooms"

// ArchiveKey is the storage key of one archived room script.
func ArchiveKey(roomID string) string {
	return "relay-archive:" + roomID
}

// RoomArchiver copies the room scripts held by a relay hub into local
// storage so that rooms survive a relay restart. Presence is never archived.
type RoomArchiver struct {
	hub      *remote.Hub
	kv       store.KV
	schedule string

	mu       sync.Mutex
	archived map[string]string
}

func NewRoomArchiver(hub *remote.Hub, kv store.KV, schedule string) *RoomArchiver {
	return &RoomArchiver{
		hub:      hub,
		kv:       kv,
		schedule: schedule,
		archived: make(map[string]string),
	}
}

func (a *RoomArchiver) Schedule() string {
	return a.schedule
}

func (a *RoomArchiver) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	saved, err := a.Archive(ctx)
	if err != nil {
		logrus.Errorf("archiver: %v", err)
		return
	}
	if saved > 0 {
		logrus.Infof("archiver: saved %d rooms", saved)
	}
}

// Archive writes every room script that changed since the last archive and
// returns how many were written.
func (a *RoomArchiver) Archive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rooms := a.hub.Rooms()
	saved := 0
	for _, roomID := range rooms {
		raw := string(a.hub.Value(remote.ScriptPath(roomID)))
		if raw == "" || a.archived[roomID] == raw {
			continue
		}
		if err := a.kv.Set(ctx, ArchiveKey(roomID), raw); err != nil {
			return saved, err
		}
		a.archived[roomID] = raw
		saved++
	}

	if saved == 0 {
		return 0, nil
	}

	index, err := a.index(ctx)
	if err != nil {
		return saved, err
	}
	for _, roomID := range rooms {
		index.Add(roomID)
	}

	return saved, a.saveIndex(ctx, index)
}

// Restore writes every archived room script back into the hub.
func (a *RoomArchiver) Restore(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	index, err := a.index(ctx)
	if err != nil {
		return 0, err
	}

	conn := a.hub.Connect()
	defer conn.Close()

	restored := 0
	for _, roomID := range index.ToSlice() {
		raw, ok, err := a.kv.Get(ctx, ArchiveKey(roomID))
		if err != nil {
			return restored, err
		}
		if !ok {
			continue
		}
		if err := conn.Write(ctx, remote.ScriptPath(roomID), json.RawMessage(raw)); err != nil {
			return restored, err
		}
		a.archived[roomID] = raw
		restored++
	}

	return restored, nil
}

func (a *RoomArchiver) index(ctx context.Context) (mapset.Set[string], error) {
	index := mapset.NewThreadUnsafeSet[string]()

	raw, ok, err := a.kv.Get(ctx, ArchiveIndexKey)
	if err != nil || !ok {
		return index, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logrus.Warnf("archiver: resetting corrupted index: %v", err)
		return index, nil
	}
	index.Append(ids...)

	return index, nil
}

func (a *RoomArchiver) saveIndex(ctx context.Context, index mapset.Set[string]) error {
	data, err := json.Marshal(index)
	if err != nil {
		return err
	}

	return a.kv.Set(ctx, ArchiveIndexKey, string(data))
}
