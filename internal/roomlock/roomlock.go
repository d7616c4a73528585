// Package roomlock serializes work per room without serializing unrelated rooms.
package roomlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per room id. Entries are dropped once no
// goroutine holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	rooms map[int]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{rooms: make(map[int]*entry)}
}

// Lock blocks until the room is free and returns the matching unlock.
func (l *Locker) Lock(roomID int) (unlock func()) {
	l.mu.Lock()
	e, ok := l.rooms[roomID]
	if !ok {
		e = &entry{}
		l.rooms[roomID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.rooms, roomID)
		}
		l.mu.Unlock()
	}
}

// Len reports how many rooms currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
