package editor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/panelcraft/internal/assist"
	"github.com/emrgen/panelcraft/internal/model"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/emrgen/panelcraft/internal/session"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	saveDelay   = 20 * time.Millisecond
	typingQuiet = 40 * time.Millisecond
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
)

func newEditor(t *testing.T, kv store.KV, opts ...Option) *Editor {
	opts = append([]Option{WithSaveDelay(saveDelay), WithTypingQuiet(typingQuiet)}, opts...)
	e, err := New(context.TODO(), store.NewProjects(kv), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.TODO()) })

	return e
}

func connect(t *testing.T, hub *remote.Hub) *remote.Conn {
	conn := hub.Connect()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func pageNumbers(s *model.Script) []int {
	numbers := make([]int, 0, len(s.Pages))
	for _, p := range s.Pages {
		numbers = append(numbers, p.Number)
	}
	return numbers
}

func TestEditor_OfflinePagesAreRenumbered(t *testing.T) {
	kv := store.NewMemoryKV()
	e := newEditor(t, kv)

	e.AddPage()
	second := e.AddPage()
	third := e.AddPage()
	e.RemovePage(second)

	script := e.Snapshot()
	assert.Equal(t, []int{1, 2}, pageNumbers(script))
	assert.Equal(t, third, script.Pages[1].ID)

	assert.Eventually(t, func() bool { return kv.Writes(store.CurrentScriptKey) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return kv.Writes(store.CurrentScriptKey) > 1 }, 5*saveDelay, tick)

	saved, err := store.NewProjects(kv).LoadCurrent(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pageNumbers(saved))
	assert.NotZero(t, saved.LastModified)
	assert.True(t, model.Equal(saved, e.LastSaved()))
}

func TestEditor_WithoutRemoteStaysOffline(t *testing.T) {
	e := newEditor(t, store.NewMemoryKV())

	assert.False(t, e.Collaborative())
	_, err := e.GoOnline(context.TODO())
	assert.ErrorIs(t, err, ErrCollaborationUnavailable)
	_, err = e.JoinRoom(context.TODO(), "abc")
	assert.ErrorIs(t, err, ErrCollaborationUnavailable)

	assert.False(t, e.Online())
	assert.Equal(t, session.Offline, e.State())
	assert.Empty(t, e.RoomID())
	assert.Nil(t, e.Participants())
}

func TestEditor_RestoresSavedScript(t *testing.T) {
	kv := store.NewMemoryKV()
	first := newEditor(t, kv)
	first.SetTitle("Issue 1")
	require.NoError(t, first.Flush(context.TODO()))

	second := newEditor(t, kv)
	assert.Equal(t, "Issue 1", second.Snapshot().Title)
	assert.Equal(t, first.Snapshot().ID, second.Snapshot().ID)
}

func TestEditor_CorruptedSaveStartsFresh(t *testing.T) {
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(context.TODO(), store.CurrentScriptKey, "{not json"))

	e := newEditor(t, kv)
	assert.Equal(t, model.DefaultTitle, e.Snapshot().Title)
	assert.Empty(t, e.Snapshot().Pages)
}

func TestEditor_SecondParticipantConverges(t *testing.T) {
	hub := remote.NewHub()
	a := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	b := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))

	a.SetTitle("Issue 1")
	a.AddPage()
	roomID, err := a.GoOnline(context.TODO())
	require.NoError(t, err)
	assert.Len(t, roomID, 12)
	assert.Eventually(t, func() bool { return a.State() == session.Live }, waitFor, tick)

	link, err := a.InviteLink("https://panelcraft.app/")
	require.NoError(t, err)
	joined, err := b.JoinRoom(context.TODO(), link)
	require.NoError(t, err)
	assert.Equal(t, roomID, joined)

	assert.Eventually(t, func() bool { return model.Equal(a.Snapshot(), b.Snapshot()) }, waitFor, tick)
	assert.Equal(t, "Issue 1", b.Snapshot().Title)
	assert.Eventually(t, func() bool { return len(a.Participants()) == 2 }, waitFor, tick)

	// later edits flow both ways
	b.AddPage()
	assert.Eventually(t, func() bool { return len(a.Snapshot().Pages) == 2 }, waitFor, tick)
	assert.Eventually(t, func() bool { return model.Equal(a.Snapshot(), b.Snapshot()) }, waitFor, tick)
}

func TestEditor_JoiningDoesNotOverwriteRoom(t *testing.T) {
	hub := remote.NewHub()
	a := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	a.SetTitle("Shared")
	roomID, err := a.GoOnline(context.TODO())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return hub.Value(remote.ScriptPath(roomID)) != nil }, waitFor, tick)

	b := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	b.SetTitle("Local draft")
	_, err = b.JoinRoom(context.TODO(), roomID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return b.Snapshot().Title == "Shared" }, waitFor, tick)
	assert.Never(t, func() bool {
		room, err := model.ParseScript(hub.Value(remote.ScriptPath(roomID)))
		return err != nil || room.Title != "Shared"
	}, 5*saveDelay, tick)
}

func TestEditor_LastWriterWins(t *testing.T) {
	hub := remote.NewHub()
	a := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	b := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))

	roomID, err := a.GoOnline(context.TODO())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return hub.Value(remote.ScriptPath(roomID)) != nil }, waitFor, tick)
	_, err = b.JoinRoom(context.TODO(), roomID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return model.Equal(a.Snapshot(), b.Snapshot()) }, waitFor, tick)

	a.SetTitle("Title from A")
	b.SetAuthor("Author from B")

	assert.Eventually(t, func() bool { return model.Equal(a.Snapshot(), b.Snapshot()) }, waitFor, tick)
	assert.Never(t, func() bool { return !model.Equal(a.Snapshot(), b.Snapshot()) }, 5*saveDelay, tick)

	// whole documents replace each other: exactly one of the edits survives
	final := a.Snapshot()
	aWon := final.Title == "Title from A" && final.Author == ""
	bWon := final.Title == model.DefaultTitle && final.Author == "Author from B"
	assert.True(t, aWon != bWon, "got title=%q author=%q", final.Title, final.Author)

	room, err := model.ParseScript(hub.Value(remote.ScriptPath(roomID)))
	require.NoError(t, err)
	assert.True(t, model.Equal(final, room))
}

func TestEditor_TypingPublishesOnePairPerBurst(t *testing.T) {
	hub := remote.NewHub()
	e := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	roomID, err := e.GoOnline(context.TODO())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return e.State() == session.Live }, waitFor, tick)

	var mu sync.Mutex
	var flags []bool
	watcher := connect(t, hub)
	_, err = watcher.Subscribe(context.TODO(), remote.ParticipantPath(roomID, e.Self().ID), func(snap remote.Snapshot) {
		var record model.Collaborator
		if snap.Decode(&record) == nil {
			mu.Lock()
			flags = append(flags, record.IsTyping)
			mu.Unlock()
		}
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(flags) == 1 }, waitFor, tick)

	for i := 0; i < 15; i++ {
		e.SetTitle("Draft " + string(rune('a'+i)))
		time.Sleep(2 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(flags) == 3 }, waitFor, tick)
	assert.Never(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(flags) > 3 }, 3*typingQuiet, tick)

	mu.Lock()
	assert.Equal(t, []bool{false, true, false}, flags)
	mu.Unlock()
}

func TestEditor_AbruptDisconnectClearsPresence(t *testing.T) {
	hub := remote.NewHub()
	connA := connect(t, hub)
	a := newEditor(t, store.NewMemoryKV(), WithRemote(connA))
	b := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))

	roomID, err := a.GoOnline(context.TODO())
	require.NoError(t, err)
	_, err = b.JoinRoom(context.TODO(), roomID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(b.Participants()) == 2 }, waitFor, tick)

	connA.Drop()
	assert.Eventually(t, func() bool {
		participants := b.Participants()
		return len(participants) == 1 && participants[0].ID == b.Self().ID
	}, waitFor, tick)
}

func TestEditor_GoOfflineLeavesRoom(t *testing.T) {
	hub := remote.NewHub()
	a := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))
	b := newEditor(t, store.NewMemoryKV(), WithRemote(connect(t, hub)))

	roomID, err := a.GoOnline(context.TODO())
	require.NoError(t, err)
	_, err = b.JoinRoom(context.TODO(), roomID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(a.Participants()) == 2 }, waitFor, tick)

	require.NoError(t, b.GoOffline(context.TODO()))
	assert.False(t, b.Online())
	assert.Empty(t, b.RoomID())
	assert.Equal(t, session.Offline, b.State())
	assert.Eventually(t, func() bool { return len(a.Participants()) == 1 }, waitFor, tick)

	// offline edits stay local
	b.SetTitle("Private")
	require.NoError(t, b.Flush(context.TODO()))
	assert.Never(t, func() bool { return a.Snapshot().Title == "Private" }, 5*saveDelay, tick)
}

func TestEditor_RenameRepublishesPresence(t *testing.T) {
	hub := remote.NewHub()
	kv := store.NewMemoryKV()
	e := newEditor(t, kv, WithRemote(connect(t, hub)), WithUserName("Writer 01"))
	roomID, err := e.GoOnline(context.TODO())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return e.State() == session.Live }, waitFor, tick)

	require.NoError(t, e.SetUserName(context.TODO(), "Ana"))
	assert.Equal(t, "Ana", e.UserName())
	assert.Equal(t, "Ana", store.NewProjects(kv).UserName(context.TODO()))

	var record model.Collaborator
	require.NoError(t, json.Unmarshal(hub.Value(remote.ParticipantPath(roomID, e.Self().ID)), &record))
	assert.Equal(t, "Ana", record.Name)
}

func TestEditor_Projects(t *testing.T) {
	ctx := context.TODO()
	e := newEditor(t, store.NewMemoryKV())

	e.SetTitle("First")
	require.NoError(t, e.Flush(ctx))
	firstID := e.Snapshot().ID

	require.NoError(t, e.NewProject(ctx))
	assert.NotEqual(t, firstID, e.Snapshot().ID)
	e.SetTitle("Second")
	require.NoError(t, e.Flush(ctx))

	history, err := e.RecentProjects(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Second", history[0].Title)

	require.NoError(t, e.LoadProject(ctx, firstID))
	assert.Equal(t, "First", e.Snapshot().Title)
	assert.ErrorIs(t, e.LoadProject(ctx, "missing"), ErrProjectNotFound)
	require.NoError(t, e.Flush(ctx))

	history, err = e.DeleteProject(ctx, firstID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.NotEqual(t, firstID, e.Snapshot().ID)
	assert.Equal(t, model.DefaultTitle, e.Snapshot().Title)
}

func TestEditor_Preferences(t *testing.T) {
	ctx := context.TODO()
	e := newEditor(t, store.NewMemoryKV())

	assert.False(t, e.DarkMode(ctx))
	require.NoError(t, e.SetDarkMode(ctx, true))
	assert.True(t, e.DarkMode(ctx))

	assert.True(t, e.NeedsMobileNotice(ctx))
	require.NoError(t, e.DismissMobileNotice(ctx))
	assert.False(t, e.NeedsMobileNotice(ctx))
}

type suggester struct {
	assist.Nop
	previous string
	draft    *model.PanelDraft
}

func (s *suggester) SuggestPanel(ctx context.Context, previous string, characters []string) *model.PanelDraft {
	s.previous = previous
	return s.draft
}

func (s *suggester) Refine(ctx context.Context, text string, field assist.Field, characters []string) string {
	return text + "!"
}

func TestEditor_AddPanel(t *testing.T) {
	ai := &suggester{draft: &model.PanelDraft{
		Action:    "Lightning",
		Dialogues: []model.DialogueDraft{{Character: "Ana", Text: "No!"}},
	}}
	e := newEditor(t, store.NewMemoryKV(), WithSuggester(ai))

	pageID := e.AddPage()
	e.AddPanel(context.TODO(), pageID, false)
	e.AddPanel(context.TODO(), pageID, false)
	e.AddPanel(context.TODO(), pageID, false)

	blank := e.Snapshot().Pages[0].Panels[0]
	assert.Len(t, blank.Dialogues, 1)
	assert.Empty(t, blank.Dialogues[0].Text)

	panelID := e.AddPanel(context.TODO(), pageID, true)
	var recent []model.Panel
	require.NoError(t, json.Unmarshal([]byte(ai.previous), &recent))
	assert.Len(t, recent, 2)

	s := e.Snapshot()
	pi, i, ok := s.FindPanel(panelID)
	require.True(t, ok)
	panel := s.Pages[pi].Panels[i]
	assert.Equal(t, "Lightning", panel.Action)
	require.Len(t, panel.Dialogues, 1)
	assert.NotEmpty(t, panel.Dialogues[0].ID)

	require.NoError(t, e.RefinePanelField(context.TODO(), panelID, model.PanelAction))
	e.RefineDialogue(context.TODO(), panelID, panel.Dialogues[0].ID)
	s = e.Snapshot()
	assert.Equal(t, "Lightning!", s.Pages[pi].Panels[i].Action)
	assert.Equal(t, "No!!", s.Pages[pi].Panels[i].Dialogues[0].Text)

	assert.ErrorIs(t, e.RefinePanelField(context.TODO(), panelID, model.PanelNotes), model.ErrUnknownPanelField)
}

func TestEditor_OnChange(t *testing.T) {
	e := newEditor(t, store.NewMemoryKV())

	var titles []string
	e.OnChange(func(s *model.Script) { titles = append(titles, s.Title) })

	e.SetTitle("A")
	e.SetTitle("A")
	e.RemovePage("missing")
	e.SetTitle("B")

	assert.Equal(t, []string{"A", "B"}, titles)

	pageID := e.AddPage()
	panelID := e.AddPanel(context.TODO(), pageID, false)
	require.NoError(t, e.SetPanelField(panelID, model.PanelAction, "Rain"))
	changes := len(titles)

	// rewriting a value that is already there is not an edit
	require.NoError(t, e.SetPanelField(panelID, model.PanelAction, "Rain"))
	dialogue := e.Snapshot().Pages[0].Panels[0].Dialogues[0]
	e.UpdateDialogue(panelID, dialogue.ID, dialogue.Character, dialogue.Text)
	assert.Len(t, titles, changes)
}

func TestParseRoom(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abc123def456", want: "abc123def456"},
		{in: "  abc  ", want: "abc"},
		{in: "https://panelcraft.app/?room=r00m", want: "r00m"},
		{in: "http://localhost:5173/editor?x=1&room=abc", want: "abc"},
		{in: "https://panelcraft.app/", wantErr: true},
		{in: "", wantErr: true},
		{in: "bad room", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRoom(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRoom)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInviteLink(t *testing.T) {
	link, err := InviteLink("https://panelcraft.app/?lang=pt", "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://panelcraft.app/?lang=pt&room=abc", link)

	_, err = InviteLink("https://panelcraft.app/", "")
	assert.ErrorIs(t, err, ErrNoRoom)
}
