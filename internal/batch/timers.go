package batch

import (
	"sync"
	"time"
)

// Timer roles. A coordinator holds at most one live timer per role; arming a
// role always cancels its predecessor first.
const (
	roleMessage   = "message"   // debounce / quiet-period timer
	roleCeiling   = "ceiling"   // absolute maximum wait from the first message
	roleFallback  = "fallback"  // fires if a "stopped typing" event never comes
	roleIndicator = "indicator" // delayed typing-indicator side effect
)

func roleTyping(senderID string) string { return "typing:" + senderID }

// timerSet is a role-keyed collection of cancelable timers. It is the single
// call site for the cancel-before-arm discipline: two live handles for the
// same role cannot exist.
type timerSet struct {
	mu     sync.Mutex
	active map[string]*time.Timer
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{active: make(map[string]*time.Timer)}
}

// Rearm cancels any pending timer for role and arms a new one. The callback
// runs on its own goroutine and is suppressed if the set shuts down first.
func (t *timerSet) Rearm(role string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.active[role]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.active[role] == tm {
			delete(t.active, role)
		}
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			fn()
		}
	})
	t.active[role] = tm
}

// Cancel stops and forgets the timer for role, if any.
func (t *timerSet) Cancel(role string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.active[role]; ok {
		tm.Stop()
		delete(t.active, role)
	}
}

// Pending reports whether a timer is currently armed for role.
func (t *timerSet) Pending(role string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[role]
	return ok
}

// Len returns the number of armed timers.
func (t *timerSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// CancelAll stops and forgets every armed timer but keeps the set usable.
func (t *timerSet) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for role, tm := range t.active {
		tm.Stop()
		delete(t.active, role)
	}
}

// Shutdown cancels everything and rejects future arms. Callbacks that have
// not fired yet will not fire.
func (t *timerSet) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for role, tm := range t.active {
		tm.Stop()
		delete(t.active, role)
	}
}
