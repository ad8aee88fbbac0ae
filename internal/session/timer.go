package session

import (
	"sync"
	"time"
)

// TimerSet is a keyed collection of cancellable one-shot timers. Scheduling
// under an existing key supersedes the pending timer, so a rescheduled
// restart can never fire twice and a cancelled key stays dead even if the
// underlying timer already expired.
//
// All methods are safe for concurrent use. Callbacks run on the timer
// goroutine without the TimerSet lock held, so they may schedule or cancel
// freely.
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	gen    map[string]uint64
}

// NewTimerSet returns an empty TimerSet.
func NewTimerSet() *TimerSet {
	return &TimerSet{
		timers: make(map[string]*time.Timer),
		gen:    make(map[string]uint64),
	}
}

// Schedule arms fn to run after d. A pending timer under the same key is
// stopped and superseded.
func (t *TimerSet) Schedule(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.gen[key]++
	g := t.gen[key]

	t.timers[key] = time.AfterFunc(d, func() {
		// A Stop that loses the race against the firing timer is still
		// honoured: the generation check discards the stale callback.
		t.mu.Lock()
		current := t.gen[key] == g
		if current {
			delete(t.timers, key)
		}
		t.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Cancel stops the pending timer under key, if any.
func (t *TimerSet) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
		delete(t.timers, key)
	}
	t.gen[key]++
}

// CancelAll stops every pending timer.
func (t *TimerSet) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, tm := range t.timers {
		tm.Stop()
		t.gen[key]++
		delete(t.timers, key)
	}
}

// Pending reports whether a timer is currently armed under key.
func (t *TimerSet) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}
