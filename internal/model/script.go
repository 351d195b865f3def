package model

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	DefaultTitle         = "My New Script"
	DefaultTreatment     = "Treatment 1"
	DefaultCharacterName = "New Character"
)

type ReferenceType string

const (
	ReferenceLink  ReferenceType = "link"
	ReferenceImage ReferenceType = "image"
)

// Script is one versioned comic script. Snapshots are treated as immutable:
// every operation in this package returns a new Script and leaves the
// receiver and its children untouched.
type Script struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Author       string      `json:"author"`
	Treatment    string      `json:"treatment,omitempty"`
	Characters   []Character `json:"characters"`
	Pages        []Page      `json:"pages"`
	RoomID       string      `json:"roomId,omitempty"`
	LastModified int64       `json:"lastModified,omitempty"`
}

type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Page numbers are derived from the page position and are rewritten on every
// structural change.
type Page struct {
	ID     string  `json:"id"`
	Number int     `json:"number"`
	Panels []Panel `json:"panels"`
}

type Panel struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Dialogues  []DialogueEntry `json:"dialogues"`
	Captions   string          `json:"captions"`
	References []Reference     `json:"references,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// DialogueEntry.Character is matched by name, not by character id.
type DialogueEntry struct {
	ID        string `json:"id"`
	Character string `json:"character"`
	Text      string `json:"text"`
}

type Reference struct {
	ID       string        `json:"id"`
	Type     ReferenceType `json:"type"`
	Value    string        `json:"value"`
	FileName string        `json:"fileName,omitempty"`
}

// Collaborator is a presence record as other participants see it.
type Collaborator struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	LastActive int64  `json:"lastActive,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

// NewScript returns an empty script with a fresh id.
func NewScript() *Script {
	return &Script{
		ID:         NewID(),
		Title:      DefaultTitle,
		Treatment:  DefaultTreatment,
		Characters: []Character{},
		Pages:      []Page{},
	}
}

// IsTrivial reports whether the script is still the untouched default and
// therefore not worth keeping in the project history.
func (s *Script) IsTrivial() bool {
	return len(s.Pages) == 0 && s.Title == DefaultTitle
}

// CharacterNames lists character names in order.
func (s *Script) CharacterNames() []string {
	names := make([]string, 0, len(s.Characters))
	for _, c := range s.Characters {
		names = append(names, c.Name)
	}
	return names
}

// Stamped returns a shallow copy carrying the given modification time.
func (s *Script) Stamped(at time.Time) *Script {
	next := *s
	next.LastModified = at.UnixMilli()
	return &next
}

// Equal compares two snapshots structurally through their canonical JSON
// encoding, the same shape the remote store holds.
func Equal(a, b *Script) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(ab, bb)
}

// FindPanel returns the page index and panel index holding panelID.
func (s *Script) FindPanel(panelID string) (int, int, bool) {
	for pi, p := range s.Pages {
		for i, panel := range p.Panels {
			if panel.ID == panelID {
				return pi, i, true
			}
		}
	}
	return -1, -1, false
}
