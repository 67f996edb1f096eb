package classify

import (
	"sync"
	"time"
)

// Key identifies one debounced stream: a logical target (a node id, a
// field) within a room.
type Key struct {
	RoomID string
	Target string
}

// Debouncer coalesces high-frequency updates per key with trailing-edge
// semantics: only the most recent value is emitted, once the window has
// elapsed with no further update. Timers are explicit state so a
// disconnect can cancel everything for a room instead of leaking closures.
type Debouncer[T any] struct {
	window time.Duration
	emit   func(Key, T)

	mu      sync.Mutex
	entries map[Key]*debounceEntry[T]
	stopped bool
}

type debounceEntry[T any] struct {
	timer *time.Timer
	value T
}

// NewDebouncer creates a debouncer that calls emit with the latest value
// after window of quiet. emit runs on a timer goroutine.
func NewDebouncer[T any](window time.Duration, emit func(Key, T)) *Debouncer[T] {
	return &Debouncer[T]{
		window:  window,
		emit:    emit,
		entries: make(map[Key]*debounceEntry[T]),
	}
}

// Update records the latest value for key and restarts its window.
func (d *Debouncer[T]) Update(key Key, value T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if e, ok := d.entries[key]; ok {
		e.value = value
		e.timer.Reset(d.window)
		return
	}
	e := &debounceEntry[T]{value: value}
	e.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.entries[key] = e
}

// Flush fires key now if an update is pending.
func (d *Debouncer[T]) Flush(key Key) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
	d.mu.Unlock()
	if ok {
		d.emit(key, e.value)
	}
}

// Cancel drops any pending update for key without emitting.
func (d *Debouncer[T]) Cancel(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
}

// CancelRoom drops every pending update for a room. Called on disconnect
// or leave so stale edits are never emitted into a dead channel.
func (d *Debouncer[T]) CancelRoom(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.entries {
		if key.RoomID == roomID {
			e.timer.Stop()
			delete(d.entries, key)
		}
	}
}

// Stop cancels all pending updates and rejects further ones.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, key)
	}
}

// Pending reports whether key has an update waiting.
func (d *Debouncer[T]) Pending(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}

func (d *Debouncer[T]) fire(key Key) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		delete(d.entries, key)
	}
	d.mu.Unlock()
	if ok {
		d.emit(key, e.value)
	}
}
