package model

import "errors"

var ErrUnknownPanelField = errors.New("unknown panel field")

type PanelField string

const (
	PanelAction   PanelField = "action"
	PanelCaptions PanelField = "captions"
	PanelNotes    PanelField = "notes"
)

type CharacterField string

const (
	CharacterName        CharacterField = "name"
	CharacterDescription CharacterField = "description"
)

// PanelDraft is the content of a panel before it gets identities.
type PanelDraft struct {
	Action    string          `json:"action"`
	Dialogues []DialogueDraft `json:"dialogues"`
	Captions  string          `json:"captions"`
}

type DialogueDraft struct {
	Character string `json:"character"`
	Text      string `json:"text"`
}

func (s *Script) shallow() *Script {
	next := *s
	return &next
}

// renumber rewrites page numbers from their positions in a fresh slice.
func renumber(pages []Page) []Page {
	out := make([]Page, len(pages))
	for i, p := range pages {
		p.Number = i + 1
		out[i] = p
	}
	return out
}

// Setters return the receiver unchanged when the value is the same.
func (s *Script) WithTitle(title string) *Script {
	if s.Title == title {
		return s
	}
	next := s.shallow()
	next.Title = title
	return next
}

func (s *Script) WithAuthor(author string) *Script {
	if s.Author == author {
		return s
	}
	next := s.shallow()
	next.Author = author
	return next
}

func (s *Script) WithTreatment(treatment string) *Script {
	if s.Treatment == treatment {
		return s
	}
	next := s.shallow()
	next.Treatment = treatment
	return next
}

func (s *Script) WithRoom(roomID string) *Script {
	if s.RoomID == roomID {
		return s
	}
	next := s.shallow()
	next.RoomID = roomID
	return next
}

// AddPage appends an empty page and returns the new snapshot and page id.
func (s *Script) AddPage() (*Script, string) {
	page := Page{ID: NewID(), Panels: []Panel{}}

	pages := make([]Page, 0, len(s.Pages)+1)
	pages = append(pages, s.Pages...)
	pages = append(pages, page)

	next := s.shallow()
	next.Pages = renumber(pages)
	return next, page.ID
}

// RemovePage drops the page and renumbers the rest. Unknown ids are a no-op.
func (s *Script) RemovePage(pageID string) *Script {
	pages := make([]Page, 0, len(s.Pages))
	for _, p := range s.Pages {
		if p.ID != pageID {
			pages = append(pages, p)
		}
	}
	if len(pages) == len(s.Pages) {
		return s
	}

	next := s.shallow()
	next.Pages = renumber(pages)
	return next
}

func (s *Script) AddCharacter() (*Script, string) {
	c := Character{ID: NewID(), Name: DefaultCharacterName}

	chars := make([]Character, 0, len(s.Characters)+1)
	chars = append(chars, s.Characters...)
	chars = append(chars, c)

	next := s.shallow()
	next.Characters = chars
	return next, c.ID
}

func (s *Script) UpdateCharacter(id string, field CharacterField, value string) *Script {
	idx := -1
	for i, c := range s.Characters {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}

	chars := append([]Character(nil), s.Characters...)
	switch field {
	case CharacterName:
		if chars[idx].Name == value {
			return s
		}
		chars[idx].Name = value
	case CharacterDescription:
		if chars[idx].Description == value {
			return s
		}
		chars[idx].Description = value
	default:
		return s
	}

	next := s.shallow()
	next.Characters = chars
	return next
}

func (s *Script) RemoveCharacter(id string) *Script {
	chars := make([]Character, 0, len(s.Characters))
	for _, c := range s.Characters {
		if c.ID != id {
			chars = append(chars, c)
		}
	}
	if len(chars) == len(s.Characters) {
		return s
	}

	next := s.shallow()
	next.Characters = chars
	return next
}

// AddPanel appends a panel built from the draft to the page. A nil draft
// produces a blank panel with one empty dialogue line.
func (s *Script) AddPanel(pageID string, draft *PanelDraft) (*Script, string) {
	pi := -1
	for i, p := range s.Pages {
		if p.ID == pageID {
			pi = i
			break
		}
	}
	if pi < 0 {
		return s, ""
	}

	panel := Panel{ID: NewID()}
	if draft == nil {
		panel.Dialogues = []DialogueEntry{{ID: NewID()}}
	} else {
		panel.Action = draft.Action
		panel.Captions = draft.Captions
		panel.Dialogues = make([]DialogueEntry, 0, len(draft.Dialogues))
		for _, d := range draft.Dialogues {
			panel.Dialogues = append(panel.Dialogues, DialogueEntry{ID: NewID(), Character: d.Character, Text: d.Text})
		}
	}

	pages := append([]Page(nil), s.Pages...)
	panels := make([]Panel, 0, len(pages[pi].Panels)+1)
	panels = append(panels, pages[pi].Panels...)
	pages[pi].Panels = append(panels, panel)

	next := s.shallow()
	next.Pages = pages
	return next, panel.ID
}

func (s *Script) RemovePanel(panelID string) *Script {
	pi, idx, ok := s.FindPanel(panelID)
	if !ok {
		return s
	}

	pages := append([]Page(nil), s.Pages...)
	old := pages[pi].Panels
	panels := make([]Panel, 0, len(old)-1)
	panels = append(panels, old[:idx]...)
	panels = append(panels, old[idx+1:]...)
	pages[pi].Panels = panels

	next := s.shallow()
	next.Pages = pages
	return next
}

// UpdatePanel replaces the panel with the result of fn applied to a private
// copy of it. The copy owns its dialogue and reference slices, so fn may
// modify them freely.
func (s *Script) UpdatePanel(panelID string, fn func(p *Panel)) *Script {
	pi, idx, ok := s.FindPanel(panelID)
	if !ok {
		return s
	}

	panel := s.Pages[pi].Panels[idx]
	panel.Dialogues = append([]DialogueEntry{}, panel.Dialogues...)
	if panel.References != nil {
		panel.References = append([]Reference{}, panel.References...)
	}
	fn(&panel)

	pages := append([]Page(nil), s.Pages...)
	panels := append([]Panel(nil), pages[pi].Panels...)
	panels[idx] = panel
	pages[pi].Panels = panels

	next := s.shallow()
	next.Pages = pages
	return next
}

// SetPanelField updates one free text field of a panel by key.
func (s *Script) SetPanelField(panelID string, field PanelField, value string) (*Script, error) {
	switch field {
	case PanelAction, PanelCaptions, PanelNotes:
	default:
		return s, ErrUnknownPanelField
	}

	pi, idx, ok := s.FindPanel(panelID)
	if !ok {
		return s, nil
	}
	panel := s.Pages[pi].Panels[idx]
	current := map[PanelField]string{
		PanelAction:   panel.Action,
		PanelCaptions: panel.Captions,
		PanelNotes:    panel.Notes,
	}
	if current[field] == value {
		return s, nil
	}

	return s.UpdatePanel(panelID, func(p *Panel) {
		switch field {
		case PanelAction:
			p.Action = value
		case PanelCaptions:
			p.Captions = value
		case PanelNotes:
			p.Notes = value
		}
	}), nil
}

func (s *Script) AddDialogue(panelID string) (*Script, string) {
	if _, _, ok := s.FindPanel(panelID); !ok {
		return s, ""
	}

	id := NewID()
	return s.UpdatePanel(panelID, func(p *Panel) {
		p.Dialogues = append(p.Dialogues, DialogueEntry{ID: id})
	}), id
}

func (s *Script) UpdateDialogue(panelID, dialogueID, character, text string) *Script {
	d, ok := s.findDialogue(panelID, dialogueID)
	if !ok || (d.Character == character && d.Text == text) {
		return s
	}

	return s.UpdatePanel(panelID, func(p *Panel) {
		for i := range p.Dialogues {
			if p.Dialogues[i].ID == dialogueID {
				p.Dialogues[i].Character = character
				p.Dialogues[i].Text = text
			}
		}
	})
}

func (s *Script) RemoveDialogue(panelID, dialogueID string) *Script {
	if !s.hasDialogue(panelID, dialogueID) {
		return s
	}

	return s.UpdatePanel(panelID, func(p *Panel) {
		kept := p.Dialogues[:0]
		for _, d := range p.Dialogues {
			if d.ID != dialogueID {
				kept = append(kept, d)
			}
		}
		p.Dialogues = kept
	})
}

func (s *Script) hasDialogue(panelID, dialogueID string) bool {
	_, ok := s.findDialogue(panelID, dialogueID)
	return ok
}

func (s *Script) findDialogue(panelID, dialogueID string) (DialogueEntry, bool) {
	pi, idx, ok := s.FindPanel(panelID)
	if !ok {
		return DialogueEntry{}, false
	}
	for _, d := range s.Pages[pi].Panels[idx].Dialogues {
		if d.ID == dialogueID {
			return d, true
		}
	}
	return DialogueEntry{}, false
}

func (s *Script) AddReference(panelID string, kind ReferenceType, value, fileName string) (*Script, string) {
	if _, _, ok := s.FindPanel(panelID); !ok {
		return s, ""
	}

	ref := Reference{ID: NewID(), Type: kind, Value: value, FileName: fileName}
	return s.UpdatePanel(panelID, func(p *Panel) {
		p.References = append(p.References, ref)
	}), ref.ID
}

func (s *Script) RemoveReference(panelID, referenceID string) *Script {
	pi, idx, ok := s.FindPanel(panelID)
	if !ok {
		return s
	}

	found := false
	for _, r := range s.Pages[pi].Panels[idx].References {
		if r.ID == referenceID {
			found = true
			break
		}
	}
	if !found {
		return s
	}

	return s.UpdatePanel(panelID, func(p *Panel) {
		kept := p.References[:0]
		for _, r := range p.References {
			if r.ID != referenceID {
				kept = append(kept, r)
			}
		}
		p.References = kept
	})
}
