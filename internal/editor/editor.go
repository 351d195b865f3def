package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/emrgen/panelcraft/internal/assist"
	"github.com/emrgen/panelcraft/internal/model"
	"github.com/emrgen/panelcraft/internal/presence"
	"github.com/emrgen/panelcraft/internal/reconcile"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/emrgen/panelcraft/internal/session"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/sirupsen/logrus"
)

type Option func(*Editor)

// WithRemote enables collaboration through store. Without it the editor is
// offline only.
func WithRemote(store remote.Store) Option {
	return func(e *Editor) {
		e.remote = store
	}
}

func WithSuggester(s assist.Suggester) Option {
	return func(e *Editor) {
		if s != nil {
			e.suggest = s
		}
	}
}

func WithSaveDelay(d time.Duration) Option {
	return func(e *Editor) {
		e.saveDelay = d
	}
}

func WithTypingQuiet(d time.Duration) Option {
	return func(e *Editor) {
		e.typingQuiet = d
	}
}

// WithUserName overrides the stored display name.
func WithUserName(name string) Option {
	return func(e *Editor) {
		e.userName = name
	}
}

// Editor owns the current script of one participant. Every edit replaces
// the snapshot, schedules a reconcile flush and, while live, pulses the
// typing indicator.
type Editor struct {
	projects    *store.Projects
	remote      remote.Store
	suggest     assist.Suggester
	saveDelay   time.Duration
	typingQuiet time.Duration

	userID string
	color  string
	roster *presence.Roster
	sess   *session.Session
	typing *presence.Typing
	loop   *reconcile.Loop

	mu        sync.Mutex
	script    *model.Script
	online    bool
	userName  string
	listeners []func(*model.Script)
}

// New restores the saved script, or starts a fresh one when nothing usable
// was saved.
func New(ctx context.Context, projects *store.Projects, opts ...Option) (*Editor, error) {
	e := &Editor{
		projects:    projects,
		suggest:     assist.Nop{},
		saveDelay:   reconcile.DefaultDelay,
		typingQuiet: presence.DefaultQuiet,
		userID:      model.NewID(),
		color:       fmt.Sprintf("#%06x", rand.Intn(0x1000000)),
		roster:      presence.NewRoster(),
	}
	for _, opt := range opts {
		opt(e)
	}

	script, err := projects.LoadCurrent(ctx)
	switch {
	case errors.Is(err, store.ErrCorrupted):
		logrus.Warnf("editor: starting from a new script: %v", err)
		script = nil
	case err != nil:
		return nil, err
	}
	if script == nil {
		script = model.NewScript()
	}
	e.script = script

	if e.userName == "" {
		e.userName = projects.UserName(ctx)
	}

	loopOpts := []reconcile.Option{reconcile.WithDelay(e.saveDelay)}
	if e.remote != nil {
		e.sess = session.New(e.remote, session.Participant{
			ID:    e.userID,
			Name:  e.userName,
			Color: e.color,
		}, e, e.roster, session.WithStateListener(e.onSessionState))
		e.typing = presence.NewTyping(e.typingQuiet, e.publishTyping)
		loopOpts = append(loopOpts, reconcile.WithPublisher(e.sess))
	}
	e.loop = reconcile.New(projects, loopOpts...)

	return e, nil
}

func (e *Editor) publishTyping(typing bool) {
	if err := e.sess.SetTyping(context.Background(), typing); err != nil {
		logrus.Warnf("editor: failed to publish typing=%v: %v", typing, err)
	}
}

func (e *Editor) onSessionState(state session.State) {
	if state == session.Live {
		e.loop.Kick()
	}
}

// Snapshot returns the current script. Callers must not modify it.
func (e *Editor) Snapshot() *model.Script {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.script
}

// Replace installs a snapshot received from the room if the current one is
// still expected.
func (e *Editor) Replace(expected, next *model.Script) bool {
	e.mu.Lock()
	if e.script != expected {
		e.mu.Unlock()
		return false
	}
	e.script = next
	listeners := e.listeners
	e.mu.Unlock()

	e.loop.Schedule(next, reconcile.Remote)
	notify(listeners, next)

	return true
}

// OnChange registers fn to be called with every new snapshot.
func (e *Editor) OnChange(fn func(*model.Script)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
}

func notify(listeners []func(*model.Script), script *model.Script) {
	for _, fn := range listeners {
		fn(script)
	}
}

// mutate applies a local edit.
func (e *Editor) mutate(fn func(*model.Script) *model.Script) *model.Script {
	e.mu.Lock()
	next := fn(e.script)
	if next == e.script {
		e.mu.Unlock()
		return next
	}
	e.script = next
	listeners := e.listeners
	e.mu.Unlock()

	e.loop.Schedule(next, reconcile.Local)
	if e.sess != nil && e.sess.Live() {
		e.typing.Pulse()
	}
	notify(listeners, next)

	return next
}

// reset installs next without counting it as a local edit: it is never
// broadcast over the room.
func (e *Editor) reset(next *model.Script) {
	e.mu.Lock()
	e.script = next
	listeners := e.listeners
	e.mu.Unlock()

	e.loop.Schedule(next, reconcile.Remote)
	notify(listeners, next)
}

func (e *Editor) SetTitle(title string) {
	e.mutate(func(s *model.Script) *model.Script { return s.WithTitle(title) })
}

func (e *Editor) SetAuthor(author string) {
	e.mutate(func(s *model.Script) *model.Script { return s.WithAuthor(author) })
}

func (e *Editor) SetTreatment(treatment string) {
	e.mutate(func(s *model.Script) *model.Script { return s.WithTreatment(treatment) })
}

func (e *Editor) AddPage() string {
	var id string
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, id = s.AddPage()
		return next
	})
	return id
}

func (e *Editor) RemovePage(pageID string) {
	e.mutate(func(s *model.Script) *model.Script { return s.RemovePage(pageID) })
}

func (e *Editor) AddCharacter() string {
	var id string
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, id = s.AddCharacter()
		return next
	})
	return id
}

func (e *Editor) UpdateCharacter(id string, field model.CharacterField, value string) {
	e.mutate(func(s *model.Script) *model.Script { return s.UpdateCharacter(id, field, value) })
}

func (e *Editor) RemoveCharacter(id string) {
	e.mutate(func(s *model.Script) *model.Script { return s.RemoveCharacter(id) })
}

// AddPanel appends a panel to the page. With useAI the suggester drafts it
// from the page's last two panels; without a suggestion the panel is blank.
func (e *Editor) AddPanel(ctx context.Context, pageID string, useAI bool) string {
	var draft *model.PanelDraft
	if useAI {
		draft = e.suggestPanel(ctx, pageID)
	}

	var id string
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, id = s.AddPanel(pageID, draft)
		return next
	})
	return id
}

func (e *Editor) suggestPanel(ctx context.Context, pageID string) *model.PanelDraft {
	script := e.Snapshot()

	recent := []model.Panel{}
	for _, p := range script.Pages {
		if p.ID == pageID {
			recent = p.Panels
			if len(recent) > 2 {
				recent = recent[len(recent)-2:]
			}
		}
	}

	previous, err := json.Marshal(recent)
	if err != nil {
		logrus.Warnf("editor: failed to encode panel context: %v", err)
		return nil
	}

	return e.suggest.SuggestPanel(ctx, string(previous), script.CharacterNames())
}

func (e *Editor) RemovePanel(panelID string) {
	e.mutate(func(s *model.Script) *model.Script { return s.RemovePanel(panelID) })
}

func (e *Editor) SetPanelField(panelID string, field model.PanelField, value string) error {
	var err error
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, err = s.SetPanelField(panelID, field, value)
		if err != nil {
			return s
		}
		return next
	})
	return err
}

// RefinePanelField replaces a panel's action or captions with the
// suggester's refinement.
func (e *Editor) RefinePanelField(ctx context.Context, panelID string, field model.PanelField) error {
	kind := assist.FieldAction
	switch field {
	case model.PanelAction:
	case model.PanelCaptions:
		kind = assist.FieldCaptions
	default:
		return model.ErrUnknownPanelField
	}

	script := e.Snapshot()
	pi, i, ok := script.FindPanel(panelID)
	if !ok {
		return nil
	}
	panel := script.Pages[pi].Panels[i]
	text := panel.Action
	if field == model.PanelCaptions {
		text = panel.Captions
	}

	refined := e.suggest.Refine(ctx, text, kind, script.CharacterNames())
	if refined == text {
		return nil
	}

	return e.SetPanelField(panelID, field, refined)
}

// RefineDialogue replaces a dialogue line's text with the suggester's
// refinement.
func (e *Editor) RefineDialogue(ctx context.Context, panelID, dialogueID string) {
	script := e.Snapshot()
	pi, i, ok := script.FindPanel(panelID)
	if !ok {
		return
	}

	for _, d := range script.Pages[pi].Panels[i].Dialogues {
		if d.ID != dialogueID {
			continue
		}
		refined := e.suggest.Refine(ctx, d.Text, assist.FieldDialogue, script.CharacterNames())
		if refined != d.Text {
			e.UpdateDialogue(panelID, dialogueID, d.Character, refined)
		}
		return
	}
}

// Chat asks the assistant about the current script.
func (e *Editor) Chat(ctx context.Context, messages []assist.ChatMessage) string {
	return e.suggest.Chat(ctx, messages, e.Snapshot())
}

func (e *Editor) AddDialogue(panelID string) string {
	var id string
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, id = s.AddDialogue(panelID)
		return next
	})
	return id
}

func (e *Editor) UpdateDialogue(panelID, dialogueID, character, text string) {
	e.mutate(func(s *model.Script) *model.Script {
		return s.UpdateDialogue(panelID, dialogueID, character, text)
	})
}

func (e *Editor) RemoveDialogue(panelID, dialogueID string) {
	e.mutate(func(s *model.Script) *model.Script { return s.RemoveDialogue(panelID, dialogueID) })
}

func (e *Editor) AddReference(panelID string, kind model.ReferenceType, value, fileName string) string {
	var id string
	e.mutate(func(s *model.Script) *model.Script {
		var next *model.Script
		next, id = s.AddReference(panelID, kind, value, fileName)
		return next
	})
	return id
}

func (e *Editor) RemoveReference(panelID, referenceID string) {
	e.mutate(func(s *model.Script) *model.Script { return s.RemoveReference(panelID, referenceID) })
}

// Collaborative reports whether a remote store is configured.
func (e *Editor) Collaborative() bool {
	return e.remote != nil
}

func (e *Editor) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.online
}

func (e *Editor) RoomID() string {
	return e.Snapshot().RoomID
}

func (e *Editor) State() session.State {
	if e.sess == nil {
		return session.Offline
	}
	return e.sess.State()
}

// Self is this participant's presence record as last published.
func (e *Editor) Self() model.Collaborator {
	e.mu.Lock()
	defer e.mu.Unlock()

	return model.Collaborator{
		ID:    e.userID,
		Name:  e.userName,
		Color: e.color,
	}
}

// Participants lists everyone in the current room, this participant included.
func (e *Editor) Participants() []model.Collaborator {
	if e.sess == nil {
		return nil
	}
	return e.sess.Participants()
}

// OthersTyping reports whether another participant of the room is typing.
func (e *Editor) OthersTyping() bool {
	if e.sess == nil {
		return false
	}

	typing := e.roster.Typing(e.sess.RoomID())
	typing.Remove(e.userID)

	return typing.Cardinality() > 0
}

// GoOnline turns the current script into a new room and joins it.
func (e *Editor) GoOnline(ctx context.Context) (string, error) {
	if e.remote == nil {
		return "", ErrCollaborationUnavailable
	}

	e.mu.Lock()
	if e.online && e.script.RoomID != "" {
		roomID := e.script.RoomID
		e.mu.Unlock()
		return roomID, nil
	}
	e.online = true
	e.mu.Unlock()

	roomID := model.NewRoomID()
	e.mutate(func(s *model.Script) *model.Script { return s.WithRoom(roomID) })

	return roomID, e.syncSession(ctx)
}

// GoOffline leaves the room. Later edits are only saved locally.
func (e *Editor) GoOffline(ctx context.Context) error {
	e.mu.Lock()
	e.online = false
	e.mu.Unlock()

	e.mutate(func(s *model.Script) *model.Script { return s.WithRoom("") })

	return e.syncSession(ctx)
}

// JoinRoom joins the room named by an invite link or a bare room id. The
// local script is replaced by the room's as soon as it arrives.
func (e *Editor) JoinRoom(ctx context.Context, linkOrID string) (string, error) {
	if e.remote == nil {
		return "", ErrCollaborationUnavailable
	}

	roomID, err := ParseRoom(linkOrID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.online = true
	e.mu.Unlock()
	e.reset(model.NewScript().WithRoom(roomID))

	return roomID, e.syncSession(ctx)
}

// InviteLink builds the link other participants use to join the room.
func (e *Editor) InviteLink(base string) (string, error) {
	return InviteLink(base, e.RoomID())
}

// syncSession makes the session follow the online flag and the room of the
// current script.
func (e *Editor) syncSession(ctx context.Context) error {
	if e.sess == nil {
		return nil
	}

	e.mu.Lock()
	want := ""
	if e.online {
		want = e.script.RoomID
		if want == "" {
			e.online = false
		}
	}
	e.mu.Unlock()

	current := e.sess.RoomID()
	if current == want {
		return nil
	}

	if current != "" {
		if e.sess.Live() {
			e.typing.Reset()
		}
		if err := e.sess.Leave(ctx); err != nil {
			return err
		}
	}
	if want == "" {
		return nil
	}

	return e.sess.Join(ctx, want)
}

// NewProject starts a fresh script. A room in progress is left.
func (e *Editor) NewProject(ctx context.Context) error {
	e.mutate(func(*model.Script) *model.Script { return model.NewScript() })
	return e.syncSession(ctx)
}

// LoadProject makes a project from the history the current script.
func (e *Editor) LoadProject(ctx context.Context, id string) error {
	history, err := e.projects.History(ctx)
	if err != nil {
		return err
	}

	for _, project := range history {
		if project.ID == id {
			loaded := model.Sanitize(project)
			e.mutate(func(*model.Script) *model.Script { return loaded })
			return e.syncSession(ctx)
		}
	}

	return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
}

// DeleteProject removes a project from the history. Deleting the current
// script replaces it with a fresh one.
func (e *Editor) DeleteProject(ctx context.Context, id string) ([]*model.Script, error) {
	history, err := e.projects.RemoveFromHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Snapshot().ID == id {
		if err := e.NewProject(ctx); err != nil {
			return history, err
		}
	}

	return history, nil
}

func (e *Editor) RecentProjects(ctx context.Context) ([]*model.Script, error) {
	return e.projects.History(ctx)
}

// LastSaved returns the last snapshot written to local persistence.
func (e *Editor) LastSaved() *model.Script {
	return e.loop.LastSaved()
}

// Flush persists pending edits now.
func (e *Editor) Flush(ctx context.Context) error {
	return e.loop.Flush(ctx)
}

func (e *Editor) UserName() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.userName
}

// SetUserName stores the display name and republishes presence while live.
func (e *Editor) SetUserName(ctx context.Context, name string) error {
	e.mu.Lock()
	e.userName = name
	e.mu.Unlock()

	if err := e.projects.SetUserName(ctx, name); err != nil {
		return err
	}
	if e.sess != nil {
		return e.sess.Rename(ctx, name)
	}

	return nil
}

func (e *Editor) DarkMode(ctx context.Context) bool {
	return e.projects.DarkMode(ctx)
}

func (e *Editor) SetDarkMode(ctx context.Context, on bool) error {
	return e.projects.SetDarkMode(ctx, on)
}

// NeedsMobileNotice reports whether the one time mobile notice is still due.
func (e *Editor) NeedsMobileNotice(ctx context.Context) bool {
	return !e.projects.MobileNoticeSeen(ctx)
}

func (e *Editor) DismissMobileNotice(ctx context.Context) error {
	return e.projects.MarkMobileNoticeSeen(ctx)
}

// Close persists pending edits, clears the typing flag, leaves the room and
// stops the reconcile timer. The remote store stays open.
func (e *Editor) Close(ctx context.Context) error {
	var errs []error
	if err := e.loop.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.sess != nil {
		if e.sess.Live() {
			e.typing.Reset()
		}
		if err := e.sess.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.loop.Stop()

	return errors.Join(errs...)
}
