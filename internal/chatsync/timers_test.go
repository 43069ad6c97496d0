package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

func TestTimerRegistry_RearmSupersedes(t *testing.T) {
	clock := newFakeClock()
	r := newTimerRegistry(clock)
	key := timerKey{SessionID: "42", Role: protocol.RoleAI}

	var fired []uint64
	fire := func(gen uint64) {
		if r.claim(key, gen) {
			fired = append(fired, gen)
		}
	}

	r.arm(key, time.Second, fire)
	clock.Advance(500 * time.Millisecond)
	r.arm(key, time.Second, fire)
	assert.Equal(t, 1, r.len())

	clock.Advance(700 * time.Millisecond)
	assert.Empty(t, fired)
	clock.Advance(300 * time.Millisecond)
	require.Len(t, fired, 1)
	assert.False(t, r.armed(key))
}

func TestTimerRegistry_StaleGenerationNotClaimed(t *testing.T) {
	clock := newFakeClock()
	r := newTimerRegistry(clock)
	key := timerKey{SessionID: "42", Role: protocol.RoleAdmin}

	var stale uint64
	r.arm(key, time.Second, func(gen uint64) { stale = gen })
	clock.Advance(time.Second)
	require.NotZero(t, stale)

	// a callback that already started when the timer was re-armed
	r.arm(key, time.Second, func(uint64) {})
	assert.False(t, r.claim(key, stale))
	assert.True(t, r.armed(key))
}

func TestTimerRegistry_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	r := newTimerRegistry(clock)
	ai := timerKey{SessionID: "42", Role: protocol.RoleAI}
	admin := timerKey{SessionID: "42", Role: protocol.RoleAdmin}
	other := timerKey{SessionID: "43", Role: protocol.RoleAI}

	n := 0
	r.arm(ai, time.Second, func(uint64) { n++ })
	r.arm(admin, time.Second, func(uint64) { n++ })
	r.arm(other, time.Second, func(uint64) { n++ })

	r.cancel(ai)
	clock.Advance(time.Second)
	assert.Equal(t, 2, n)

	r.arm(ai, time.Second, func(uint64) { n++ })
	r.arm(admin, time.Second, func(uint64) { n++ })
	r.cancelAll()
	assert.Equal(t, 0, r.len())
	clock.Advance(time.Second)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_ClearIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("42")

	require.NoError(t, s.Set(ctx, "43"))
	require.NoError(t, s.Clear(ctx, "42"))
	id, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "43", id)

	require.NoError(t, s.Clear(ctx, "43"))
	_, ok, err = s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
