package presence

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/panelcraft/internal/model"
)

// Roster keeps the live participants of each room as last delivered by the
// remote store.
type Roster struct {
	mu    sync.RWMutex
	rooms map[string][]model.Collaborator
}

func NewRoster() *Roster {
	return &Roster{
		rooms: make(map[string][]model.Collaborator),
	}
}

// Update replaces the participants of roomID with records, keyed by
// participant id, and returns them ordered by id.
func (r *Roster) Update(roomID string, records map[string]model.Collaborator) []model.Collaborator {
	list := make([]model.Collaborator, 0, len(records))
	for id, c := range records {
		if c.ID == "" {
			c.ID = id
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = list

	return append([]model.Collaborator(nil), list...)
}

func (r *Roster) Participants(roomID string) []model.Collaborator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.Collaborator(nil), r.rooms[roomID]...)
}

// Typing returns the ids of participants currently typing in roomID.
func (r *Roster) Typing(roomID string) mapset.Set[string] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := mapset.NewThreadUnsafeSet[string]()
	for _, c := range r.rooms[roomID] {
		if c.IsTyping {
			ids.Add(c.ID)
		}
	}

	return ids
}

func (r *Roster) Clear(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, roomID)
}
