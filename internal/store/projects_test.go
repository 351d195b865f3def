package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/emrgen/panelcraft/internal/compress"
	"github.com/emrgen/panelcraft/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormKV_SetGetDelete(t *testing.T) {
	ctx := context.TODO()
	kv := NewGormKV(testDB, compress.NewGZip())

	_, ok, err := kv.Get(ctx, "kv-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "kv-key", "first"))
	require.NoError(t, kv.Set(ctx, "kv-key", "second"))

	got, ok, err := kv.Get(ctx, "kv-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", got)

	require.NoError(t, kv.Delete(ctx, "kv-key"))
	_, ok, err = kv.Get(ctx, "kv-key")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, kv.Delete(ctx, "kv-key"))
}

func TestGormKV_ReadsValuesWrittenByAnotherCodec(t *testing.T) {
	ctx := context.TODO()

	require.NoError(t, NewGormKV(testDB, compress.NewLZ4()).Set(ctx, "kv-codec", "payload"))

	got, ok, err := NewGormKV(testDB, compress.NewBrotli()).Get(ctx, "kv-codec")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", got)
}

func TestProjects_CurrentScript(t *testing.T) {
	ctx := context.TODO()
	projects := NewProjects(NewGormKV(testDB, compress.NewNop()))

	script := model.NewScript().WithTitle("Harbor")
	script, _ = script.AddPage()
	require.NoError(t, projects.SaveCurrent(ctx, script))

	loaded, err := projects.LoadCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, model.Equal(script, loaded))
}

func TestProjects_CurrentScriptCorrupted(t *testing.T) {
	ctx := context.TODO()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, CurrentScriptKey, "{not json"))

	loaded, err := NewProjects(kv).LoadCurrent(ctx)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Nil(t, loaded)
}

func TestProjects_CurrentScriptMissing(t *testing.T) {
	loaded, err := NewProjects(NewMemoryKV()).LoadCurrent(context.TODO())
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestProjects_UpsertHistory(t *testing.T) {
	ctx := context.TODO()
	projects := NewProjects(NewMemoryKV())

	var scripts []*model.Script
	for i := 0; i < HistoryLimit+3; i++ {
		s := model.NewScript().WithTitle(fmt.Sprintf("script %d", i))
		scripts = append(scripts, s)
		_, err := projects.UpsertHistory(ctx, s)
		require.NoError(t, err)
	}

	history, err := projects.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, HistoryLimit)
	assert.Equal(t, scripts[len(scripts)-1].ID, history[0].ID)
	assert.Equal(t, scripts[3].ID, history[HistoryLimit-1].ID)

	// re-saving an existing project moves it to the front without duplicating it
	renamed := scripts[5].WithTitle("renamed")
	history, err = projects.UpsertHistory(ctx, renamed)
	require.NoError(t, err)
	require.Len(t, history, HistoryLimit)
	assert.Equal(t, "renamed", history[0].Title)

	count := 0
	for _, s := range history {
		if s.ID == renamed.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestProjects_RemoveFromHistory(t *testing.T) {
	ctx := context.TODO()
	projects := NewProjects(NewMemoryKV())

	a := model.NewScript()
	b := model.NewScript()
	_, err := projects.UpsertHistory(ctx, a)
	require.NoError(t, err)
	_, err = projects.UpsertHistory(ctx, b)
	require.NoError(t, err)

	history, err := projects.RemoveFromHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, b.ID, history[0].ID)

	history, err = projects.RemoveFromHistory(ctx, "missing")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProjects_CorruptedHistoryIsReset(t *testing.T) {
	ctx := context.TODO()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, HistoryKey, "[{"))
	projects := NewProjects(kv)

	_, err := projects.History(ctx)
	assert.ErrorIs(t, err, ErrCorrupted)

	history, err := projects.UpsertHistory(ctx, model.NewScript())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProjects_Preferences(t *testing.T) {
	ctx := context.TODO()
	projects := NewProjects(NewMemoryKV())

	assert.Regexp(t, `^Writer \d+$`, projects.UserName(ctx))
	require.NoError(t, projects.SetUserName(ctx, "Lia"))
	assert.Equal(t, "Lia", projects.UserName(ctx))

	assert.False(t, projects.DarkMode(ctx))
	require.NoError(t, projects.SetDarkMode(ctx, true))
	assert.True(t, projects.DarkMode(ctx))

	assert.False(t, projects.MobileNoticeSeen(ctx))
	require.NoError(t, projects.MarkMobileNoticeSeen(ctx))
	assert.True(t, projects.MobileNoticeSeen(ctx))
}
