package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/emrgen/panelcraft/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	CurrentScriptKey = "panelcraft-script-v1"
	HistoryKey       = "panelcraft-projects-history"
	UserNameKey      = "panelcraft-username"
	DarkModeKey      = "panelcraft-darkmode"
	MobileNoticeKey  = "panelcraft-mobile-notice"

	// HistoryLimit caps the recent projects list.
	HistoryLimit = 10
)

// Projects is the local persistence of one device: the current script, the
// recent projects list and a few user preferences.
type Projects struct {
	kv KV
}

func NewProjects(kv KV) *Projects {
	return &Projects{kv: kv}
}

// LoadCurrent returns the sanitized current script, or nil when nothing was
// saved yet. A corrupted value yields ErrCorrupted.
func (p *Projects) LoadCurrent(ctx context.Context) (*model.Script, error) {
	raw, ok, err := p.kv.Get(ctx, CurrentScriptKey)
	if err != nil || !ok {
		return nil, err
	}

	script, err := model.ParseScript([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, CurrentScriptKey, err)
	}

	return script, nil
}

func (p *Projects) SaveCurrent(ctx context.Context, script *model.Script) error {
	data, err := json.Marshal(script)
	if err != nil {
		return err
	}

	return p.kv.Set(ctx, CurrentScriptKey, string(data))
}

// History returns recent projects, most recent first.
func (p *Projects) History(ctx context.Context) ([]*model.Script, error) {
	raw, ok, err := p.kv.Get(ctx, HistoryKey)
	if err != nil || !ok {
		return []*model.Script{}, err
	}

	var history []*model.Script
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return []*model.Script{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, HistoryKey, err)
	}

	out := make([]*model.Script, 0, len(history))
	for _, s := range history {
		if s != nil {
			out = append(out, model.Sanitize(s))
		}
	}

	return out, nil
}

// UpsertHistory moves script to the front of the history, replacing any
// older entry with the same id and evicting the oldest past HistoryLimit.
func (p *Projects) UpsertHistory(ctx context.Context, script *model.Script) ([]*model.Script, error) {
	history, err := p.History(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorrupted) {
			return nil, err
		}
		logrus.Warnf("resetting project history: %v", err)
	}

	next := make([]*model.Script, 0, len(history)+1)
	next = append(next, script)
	for _, s := range history {
		if s.ID != script.ID {
			next = append(next, s)
		}
	}
	if len(next) > HistoryLimit {
		next = next[:HistoryLimit]
	}

	return next, p.saveHistory(ctx, next)
}

// RemoveFromHistory drops the project with the given id.
func (p *Projects) RemoveFromHistory(ctx context.Context, id string) ([]*model.Script, error) {
	history, err := p.History(ctx)
	if err != nil {
		return nil, err
	}

	next := make([]*model.Script, 0, len(history))
	for _, s := range history {
		if s.ID != id {
			next = append(next, s)
		}
	}

	return next, p.saveHistory(ctx, next)
}

func (p *Projects) saveHistory(ctx context.Context, history []*model.Script) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}

	return p.kv.Set(ctx, HistoryKey, string(data))
}

// UserName returns the saved display name or a generated default.
func (p *Projects) UserName(ctx context.Context) string {
	name, ok, err := p.kv.Get(ctx, UserNameKey)
	if err != nil {
		logrus.Warnf("failed to read user name: %v", err)
	}
	if ok && name != "" {
		return name
	}

	return fmt.Sprintf("Writer %d", rand.Intn(100))
}

func (p *Projects) SetUserName(ctx context.Context, name string) error {
	return p.kv.Set(ctx, UserNameKey, name)
}

func (p *Projects) DarkMode(ctx context.Context) bool {
	return p.flag(ctx, DarkModeKey)
}

func (p *Projects) SetDarkMode(ctx context.Context, on bool) error {
	return p.kv.Set(ctx, DarkModeKey, strconv.FormatBool(on))
}

// MobileNoticeSeen reports whether the one time small screen notice was shown.
func (p *Projects) MobileNoticeSeen(ctx context.Context) bool {
	return p.flag(ctx, MobileNoticeKey)
}

func (p *Projects) MarkMobileNoticeSeen(ctx context.Context) error {
	return p.kv.Set(ctx, MobileNoticeKey, "true")
}

func (p *Projects) flag(ctx context.Context, key string) bool {
	v, ok, err := p.kv.Get(ctx, key)
	if err != nil {
		logrus.Warnf("failed to read %s: %v", key, err)
		return false
	}

	return ok && v == "true"
}
