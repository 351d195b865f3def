package model

import "encoding/json"

// Sanitize restores the collections that external sources drop when they are
// empty: characters, page panels and panel dialogues become empty slices
// instead of nil. Page numbers are rewritten from positions. The input is not
// modified. Sanitize(Sanitize(s)) equals Sanitize(s).
func Sanitize(s *Script) *Script {
	if s == nil {
		return nil
	}

	next := *s
	if next.Characters == nil {
		next.Characters = []Character{}
	} else {
		next.Characters = append([]Character{}, next.Characters...)
	}

	pages := make([]Page, len(s.Pages))
	for i, p := range s.Pages {
		p.Number = i + 1
		panels := make([]Panel, len(p.Panels))
		for j, panel := range p.Panels {
			if panel.Dialogues == nil {
				panel.Dialogues = []DialogueEntry{}
			} else {
				panel.Dialogues = append([]DialogueEntry{}, panel.Dialogues...)
			}
			panels[j] = panel
		}
		p.Panels = panels
		pages[i] = p
	}
	next.Pages = pages

	return &next
}

// ParseScript decodes a stored or received snapshot and sanitizes it.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return Sanitize(&s), nil
}
