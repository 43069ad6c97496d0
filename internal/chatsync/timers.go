package chatsync

import (
	"time"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type timerKey struct {
	SessionID string
	Role      protocol.Role
}

type armedTimer struct {
	timer Timer
	gen   uint64
}

// timerRegistry holds at most one pending timer per (session, role). It is
// not synchronized; the Controller guards it with its own mutex.
//
// A fired callback must call claim with the generation it was armed with.
// Stop cannot recall a callback that already started, so claim is what keeps
// a superseded timer from acting.
type timerRegistry struct {
	clock  Clock
	timers map[timerKey]armedTimer
	seq    uint64
}

func newTimerRegistry(clock Clock) *timerRegistry {
	return &timerRegistry{clock: clock, timers: map[timerKey]armedTimer{}}
}

// arm replaces any pending timer for key.
func (r *timerRegistry) arm(key timerKey, d time.Duration, fire func(gen uint64)) {
	r.cancel(key)
	r.seq++
	gen := r.seq
	t := r.clock.AfterFunc(d, func() { fire(gen) })
	r.timers[key] = armedTimer{timer: t, gen: gen}
}

func (r *timerRegistry) claim(key timerKey, gen uint64) bool {
	cur, ok := r.timers[key]
	if !ok || cur.gen != gen {
		return false
	}
	delete(r.timers, key)
	return true
}

func (r *timerRegistry) cancel(key timerKey) {
	if cur, ok := r.timers[key]; ok {
		cur.timer.Stop()
		delete(r.timers, key)
	}
}

func (r *timerRegistry) cancelAll() {
	for key := range r.timers {
		r.cancel(key)
	}
}

func (r *timerRegistry) armed(key timerKey) bool {
	_, ok := r.timers[key]
	return ok
}

func (r *timerRegistry) len() int { return len(r.timers) }
