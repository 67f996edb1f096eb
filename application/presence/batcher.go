// Package presence rate-limits cursor updates so a dragging pointer costs
// at most one message per window and a stationary one costs nothing.
package presence

import (
	"sync"
	"time"

	"flowsync/domain/flow"
)

// Window is the fixed batching window. A new move inside an open window
// overwrites the pending position but never extends the window.
const Window = 200 * time.Millisecond

type batchKey struct {
	roomID string
	userID string
}

type pendingCursor struct {
	pos   flow.Position
	timer *time.Timer
}

// CursorBatcher collapses pointer movement into one send per participant
// per window. Sends happen on timer goroutines via the send callback.
type CursorBatcher struct {
	window time.Duration
	send   func(roomID, userID string, pos flow.Position)

	mu       sync.Mutex
	pending  map[batchKey]*pendingCursor
	lastSent map[batchKey]flow.Position
	stopped  bool
}

// NewCursorBatcher creates a batcher with the standard window.
func NewCursorBatcher(send func(roomID, userID string, pos flow.Position)) *CursorBatcher {
	return NewCursorBatcherWindow(Window, send)
}

// NewCursorBatcherWindow creates a batcher with a custom window, used by
// tests to keep timing short.
func NewCursorBatcherWindow(window time.Duration, send func(roomID, userID string, pos flow.Position)) *CursorBatcher {
	return &CursorBatcher{
		window:   window,
		send:     send,
		pending:  make(map[batchKey]*pendingCursor),
		lastSent: make(map[batchKey]flow.Position),
	}
}

// Move records a pointer position. The first move for a participant opens
// a window and schedules its flush; later moves inside the window are a
// cheap overwrite in place.
func (b *CursorBatcher) Move(roomID, userID string, pos flow.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	key := batchKey{roomID: roomID, userID: userID}
	if p, open := b.pending[key]; open {
		p.pos = pos
		return
	}
	p := &pendingCursor{pos: pos}
	p.timer = time.AfterFunc(b.window, func() { b.flush(key) })
	b.pending[key] = p
}

// Stop cancels the pending window for one participant, on disconnect or
// leave.
func (b *CursorBatcher) Stop(roomID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := batchKey{roomID: roomID, userID: userID}
	if p, ok := b.pending[key]; ok {
		p.timer.Stop()
		delete(b.pending, key)
	}
	delete(b.lastSent, key)
}

// StopRoom cancels every pending window for a room.
func (b *CursorBatcher) StopRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, p := range b.pending {
		if key.roomID == roomID {
			p.timer.Stop()
			delete(b.pending, key)
		}
	}
	for key := range b.lastSent {
		if key.roomID == roomID {
			delete(b.lastSent, key)
		}
	}
}

// Close shuts the batcher down entirely.
func (b *CursorBatcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for key, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, key)
	}
}

// flush closes the window and transmits only if the position moved since
// the last send; a stationary cursor produces a no-op flush.
func (b *CursorBatcher) flush(key batchKey) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	last, sentBefore := b.lastSent[key]
	if sentBefore && last == p.pos {
		b.mu.Unlock()
		return
	}
	b.lastSent[key] = p.pos
	b.mu.Unlock()

	b.send(key.roomID, key.userID, p.pos)
}
