package undo

import (
	"sync"
	"time"
)

// DateLock serializes all undo work touching one calendar day. A batch
// restore holds its date's lock for the whole run so a concurrent single
// undo cannot race it to the same record's claim.
type DateLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDateLock creates an empty per-date lock set.
func NewDateLock() *DateLock {
	return &DateLock{locks: make(map[string]*sync.Mutex)}
}

func (l *DateLock) lockFor(day time.Time) *sync.Mutex {
	key := day.UTC().Format("2006-01-02")
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Acquire blocks until the day's lock is held and returns the release func.
func (l *DateLock) Acquire(day time.Time) func() {
	m := l.lockFor(day)
	m.Lock()
	return m.Unlock
}
