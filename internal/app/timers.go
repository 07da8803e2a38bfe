package app

import (
	"strings"
	"sync"
	"time"

	"live-quiz-service/internal/dependencies/clock"
)

// timerSet tracks the scheduled callbacks of every session so they can be
// replaced (new question) or cancelled (session end) without blocking goroutines.
type timerSet struct {
	clock clock.Clock

	mu     sync.Mutex
	timers map[string]clock.Timer
}

func newTimerSet(c clock.Clock) *timerSet {
	return &timerSet{clock: c, timers: make(map[string]clock.Timer)}
}

func deadlineKey(sessionID string) string { return sessionID + "/deadline" }
func advanceKey(sessionID string) string  { return sessionID + "/advance" }
func graceKey(sessionID, participantID string) string {
	return sessionID + "/grace/" + participantID
}

// schedule replaces any timer under key.
func (t *timerSet) schedule(key string, d time.Duration, f func()) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	var timer clock.Timer
	timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[key] == timer {
			delete(t.timers, key)
		}
		t.mu.Unlock()
		f()
	})
	t.timers[key] = timer
}

func (t *timerSet) cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

// cancelSession stops every timer belonging to a session.
func (t *timerSet) cancelSession(sessionID string) {
	prefix := sessionID + "/"
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		if strings.HasPrefix(key, prefix) {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

func (t *timerSet) pending(sessionID string) int {
	prefix := sessionID + "/"
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key := range t.timers {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (t *timerSet) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
