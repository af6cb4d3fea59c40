package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndReplace(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeConn{}, &fakeConn{}

	count, replaced := r.Register("A", first)
	assert.Equal(t, 1, count)
	assert.Nil(t, replaced)

	count, replaced = r.Register("A", second)
	assert.Equal(t, 1, count)
	assert.Same(t, first, replaced)
	assert.True(t, r.Owns("A", second))

	// The old connection no longer maps to anything.
	assert.False(t, r.Unregister("A", first))
	assert.True(t, r.Has("A"))
}

func TestRegistry_SameConnectionKeepsConnectedAt(t *testing.T) {
	r := NewRegistry()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	conn := &fakeConn{}
	r.Register("A", conn)
	clock = clock.Add(time.Minute)
	r.Register("A", conn)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), list[0].ConnectedAt)
	assert.Equal(t, clock, list[0].LastSeen)
}

func TestRegistry_RenameDropsOldID(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}

	r.Register("A", conn)
	count, replaced := r.Register("B", conn)

	assert.Equal(t, 1, count)
	assert.Nil(t, replaced)
	assert.False(t, r.Has("A"))
	assert.True(t, r.Owns("B", conn))
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register("A", conn)

	assert.True(t, r.Unregister("A", conn))
	assert.False(t, r.Unregister("A", conn))
	assert.False(t, r.Unregister("missing", conn))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_OthersIsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("A", &fakeConn{})
	r.Register("B", &fakeConn{})
	r.Register("C", &fakeConn{})

	others := r.Others("A")
	ids := make([]string, 0, len(others))
	for _, v := range others {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"B", "C"}, ids)

	r.Register("D", &fakeConn{})
	assert.Len(t, others, 2)
	assert.Len(t, r.Others(""), 4)
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	conn, stranger := &fakeConn{}, &fakeConn{}
	r.Register("A", conn)

	clock = clock.Add(time.Hour)
	r.Touch("A", stranger)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), r.List()[0].LastSeen)

	r.Touch("A", conn)
	assert.Equal(t, clock, r.List()[0].LastSeen)
}

func TestRegistry_ListSortedAndDrain(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"C", "A", "B"} {
		r.Register(id, &fakeConn{})
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].ID)
	assert.Equal(t, "B", list[1].ID)
	assert.Equal(t, "C", list[2].ID)

	drained := r.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.List())
}

func TestRegistry_Recipients(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeConn{}, &fakeConn{}
	r.Register("A", first)
	r.Register("B", &fakeConn{})

	targets, ok := r.Recipients("A", first)
	require.True(t, ok)
	require.Len(t, targets, 1)
	assert.Equal(t, "B", targets[0].ID)

	_, ok = r.Recipients("A", nil)
	assert.True(t, ok)

	r.Register("A", second)
	_, ok = r.Recipients("A", first)
	assert.False(t, ok, "a displaced connection no longer speaks for A")

	_, ok = r.Recipients("ghost", nil)
	assert.False(t, ok)
}
