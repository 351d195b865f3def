package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/emrgen/panelcraft/internal/model"
	"github.com/stretchr/testify/assert"
)

type writes struct {
	mu  sync.Mutex
	got []bool
}

func (w *writes) publish(typing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.got = append(w.got, typing)
}

func (w *writes) list() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]bool(nil), w.got...)
}

func TestTyping_BurstPublishesOnePair(t *testing.T) {
	w := &writes{}
	typing := NewTyping(30*time.Millisecond, w.publish)

	for i := 0; i < 20; i++ {
		typing.Pulse()
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, w.list())
	assert.True(t, typing.Active())

	assert.Eventually(t, func() bool { return len(w.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, w.list())
	assert.False(t, typing.Active())

	assert.Never(t, func() bool { return len(w.list()) > 2 }, 80*time.Millisecond, 5*time.Millisecond)
}

func TestTyping_SeparateBursts(t *testing.T) {
	w := &writes{}
	typing := NewTyping(20*time.Millisecond, w.publish)

	typing.Pulse()
	assert.Eventually(t, func() bool { return len(w.list()) == 2 }, time.Second, 5*time.Millisecond)
	typing.Pulse()
	assert.Eventually(t, func() bool { return len(w.list()) == 4 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []bool{true, false, true, false}, w.list())
}

func TestTyping_ResetAlwaysPublishesFalse(t *testing.T) {
	w := &writes{}
	typing := NewTyping(40*time.Millisecond, w.publish)

	typing.Reset()
	assert.Equal(t, []bool{false}, w.list())

	typing.Pulse()
	typing.Reset()
	assert.Equal(t, []bool{false, true, false}, w.list())

	// the cancelled quiet timer does not publish a second false
	assert.Never(t, func() bool { return len(w.list()) > 3 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestRoster(t *testing.T) {
	r := NewRoster()

	list := r.Update("room", map[string]model.Collaborator{
		"b": {ID: "b", Name: "Writer 02", IsTyping: true},
		"a": {Name: "Writer 01"},
	})
	assert.Equal(t, []string{"a", "b"}, []string{list[0].ID, list[1].ID})
	assert.Equal(t, list, r.Participants("room"))
	assert.Empty(t, r.Participants("other"))

	typing := r.Typing("room")
	assert.True(t, typing.Contains("b"))
	assert.Equal(t, 1, typing.Cardinality())

	r.Update("room", map[string]model.Collaborator{"a": {ID: "a"}})
	assert.Len(t, r.Participants("room"), 1)

	r.Clear("room")
	assert.Empty(t, r.Participants("room"))
}
