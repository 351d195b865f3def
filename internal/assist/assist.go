package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/emrgen/panelcraft/internal/model"
)

// Field is the kind of panel text a refinement targets.
type Field string

const (
	FieldAction   Field = "action"
	FieldDialogue Field = "dialogue"
	FieldCaptions Field = "captions"
)

type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Suggester is the best-effort AI boundary. Implementations never fail
// loudly: SuggestPanel returns nil when no suggestion is available, Refine
// returns the original text and Chat returns a fallback message.
type Suggester interface {
	SuggestPanel(ctx context.Context, previous string, characters []string) *model.PanelDraft
	Refine(ctx context.Context, text string, field Field, characters []string) string
	Chat(ctx context.Context, messages []ChatMessage, script *model.Script) string
}

// Nop is used when no AI service is configured.
type Nop struct{}

var _ Suggester = Nop{}

func (Nop) SuggestPanel(context.Context, string, []string) *model.PanelDraft {
	return nil
}

func (Nop) Refine(_ context.Context, text string, _ Field, _ []string) string {
	return text
}

func (Nop) Chat(context.Context, []ChatMessage, *model.Script) string {
	return NotConfiguredMessage
}

const (
	NotConfiguredMessage = "The AI assistant is not configured."
	ChatFailedMessage    = "Sorry, the AI assistant could not answer. Check the API key."
)

// FormatScript renders the whole script as plain text context.
func FormatScript(s *model.Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nAuthor: %s\nTreatment: %s\n", s.Title, s.Author, s.Treatment)
	fmt.Fprintf(&b, "Characters: %s\n", strings.Join(s.CharacterNames(), ", "))
	for _, page := range s.Pages {
		fmt.Fprintf(&b, "\nPAGE %d:\n", page.Number)
		for i, panel := range page.Panels {
			fmt.Fprintf(&b, "  PANEL %d:\n", i+1)
			fmt.Fprintf(&b, "    Action: %s\n", panel.Action)
			for _, d := range panel.Dialogues {
				fmt.Fprintf(&b, "    Dialogue (%s): %s\n", d.Character, d.Text)
			}
			if panel.Captions != "" {
				fmt.Fprintf(&b, "    Caption: %s\n", panel.Captions)
			}
		}
	}

	return b.String()
}
