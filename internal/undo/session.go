package undo

import (
	"fmt"
	"sync"
)

// DefaultMaxConsecutiveUndos is the cap on back-to-back single undos per
// actor/scope without an intervening new mutation.
const DefaultMaxConsecutiveUndos = 3

// SessionTracker holds the ephemeral per-actor, per-scope consecutive-undo
// counters. Sessions are created lazily on first use and live only as long
// as the process; they are deliberately not durable.
type SessionTracker struct {
	mu       sync.Mutex
	max      int
	counters map[string]int
}

// NewSessionTracker creates a tracker with the given cap; maxConsecutive <= 0
// falls back to DefaultMaxConsecutiveUndos.
func NewSessionTracker(maxConsecutive int) *SessionTracker {
	if maxConsecutive <= 0 {
		maxConsecutive = DefaultMaxConsecutiveUndos
	}
	return &SessionTracker{
		max:      maxConsecutive,
		counters: make(map[string]int),
	}
}

func sessionKey(actorID, scopeID int64) string {
	return fmt.Sprintf("%d:%d", actorID, scopeID)
}

// Allowed reports whether the actor may perform another consecutive undo in
// the scope.
func (t *SessionTracker) Allowed(actorID, scopeID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[sessionKey(actorID, scopeID)] < t.max
}

// Increment records one successful single undo.
func (t *SessionTracker) Increment(actorID, scopeID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[sessionKey(actorID, scopeID)]++
}

// Reset clears the counter; called after any successful non-undo mutation by
// the actor in the scope.
func (t *SessionTracker) Reset(actorID, scopeID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, sessionKey(actorID, scopeID))
}

// Count returns the current consecutive-undo count.
func (t *SessionTracker) Count(actorID, scopeID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[sessionKey(actorID, scopeID)]
}
