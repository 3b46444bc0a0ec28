package auction

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type timerKind string

const (
	timerEviction timerKind = "eviction"
	timerBanner   timerKind = "banner"
)

// scheduledTimer is the cancellation handle for one pending callback.
type scheduledTimer struct {
	kind     timerKind
	leadID   string
	deadline time.Time
	timer    clockwork.Timer
	done     chan struct{}
}

// timerSet tracks at most one timer per lead for a given kind.
// It is guarded by the owning Synchronizer's mutex.
type timerSet struct {
	kind   timerKind
	active map[string]*scheduledTimer
}

func newTimerSet(kind timerKind) *timerSet {
	return &timerSet{kind: kind, active: make(map[string]*scheduledTimer)}
}

// schedule replaces any existing timer for the lead and starts a goroutine
// that calls fire with the new handle once the timer expires.
func (ts *timerSet) schedule(clock Clock, leadID string, d time.Duration, fire func(*scheduledTimer)) *scheduledTimer {
	ts.cancel(leadID)

	st := &scheduledTimer{
		kind:     ts.kind,
		leadID:   leadID,
		deadline: clock.Now().Add(d),
		timer:    clock.NewTimer(d),
		done:     make(chan struct{}),
	}
	ts.active[leadID] = st

	go func(st *scheduledTimer) {
		select {
		case <-st.timer.Chan():
			fire(st)
		case <-st.done:
		}
	}(st)

	log.Debug().
		Str("lead_id", leadID).
		Str("timer", string(ts.kind)).
		Time("deadline", st.deadline).
		Dur("duration", d).
		Msg("scheduled one-shot timer")

	return st
}

// pending reports whether a timer is active for the lead.
func (ts *timerSet) pending(leadID string) (*scheduledTimer, bool) {
	st, ok := ts.active[leadID]
	return st, ok
}

// current reports whether st is still the live handle for its lead. A timer
// that fired after being cancelled or replaced is stale.
func (ts *timerSet) current(st *scheduledTimer) bool {
	return ts.active[st.leadID] == st
}

// release forgets a handle whose timer has fired.
func (ts *timerSet) release(st *scheduledTimer) {
	if ts.current(st) {
		delete(ts.active, st.leadID)
	}
}

func (ts *timerSet) cancel(leadID string) {
	if st, ok := ts.active[leadID]; ok {
		stopAndDrainTimer(st.timer)
		close(st.done)
		delete(ts.active, leadID)
		log.Debug().Str("lead_id", leadID).Str("timer", string(ts.kind)).Msg("cancelled timer")
	}
}

func (ts *timerSet) cancelAll() {
	for leadID := range ts.active {
		ts.cancel(leadID)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
