package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsync/domain/flow"
)

type sendRecorder struct {
	mu    sync.Mutex
	sends []flow.Position
	users []string
}

func (r *sendRecorder) send(roomID, userID string, pos flow.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, pos)
	r.users = append(r.users, userID)
}

func (r *sendRecorder) positions() []flow.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flow.Position(nil), r.sends...)
}

func TestCursorBatcher_CoalescesToLastPosition(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(20*time.Millisecond, rec.send)
	defer b.Close()

	b.Move("room-1", "user-a", flow.Position{X: 1, Y: 1})
	b.Move("room-1", "user-a", flow.Position{X: 2, Y: 2})
	b.Move("room-1", "user-a", flow.Position{X: 3, Y: 3})

	time.Sleep(60 * time.Millisecond)

	sends := rec.positions()
	require.Len(t, sends, 1, "one window produces one send")
	assert.Equal(t, flow.Position{X: 3, Y: 3}, sends[0])
}

func TestCursorBatcher_WindowIsNotExtended(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(50*time.Millisecond, rec.send)
	defer b.Close()

	b.Move("room-1", "user-a", flow.Position{X: 1, Y: 1})
	// Keep moving past where a debouncer would have reset the timer.
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		b.Move("room-1", "user-a", flow.Position{X: float64(i), Y: 0})
	}

	time.Sleep(30 * time.Millisecond)

	sends := rec.positions()
	require.NotEmpty(t, sends, "continuous movement still flushes once per window")
}

func TestCursorBatcher_StationaryCursorSendsNothing(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(10*time.Millisecond, rec.send)
	defer b.Close()

	pos := flow.Position{X: 5, Y: 5}
	b.Move("room-1", "user-a", pos)
	time.Sleep(30 * time.Millisecond)
	b.Move("room-1", "user-a", pos)
	time.Sleep(30 * time.Millisecond)

	sends := rec.positions()
	assert.Len(t, sends, 1, "re-reporting the sent position is suppressed")
}

func TestCursorBatcher_ParticipantsAreIndependent(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(10*time.Millisecond, rec.send)
	defer b.Close()

	b.Move("room-1", "user-a", flow.Position{X: 1, Y: 1})
	b.Move("room-1", "user-b", flow.Position{X: 2, Y: 2})

	time.Sleep(40 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.sends, 2)
	assert.ElementsMatch(t, []string{"user-a", "user-b"}, rec.users)
}

func TestCursorBatcher_StopCancelsPendingWindow(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(20*time.Millisecond, rec.send)
	defer b.Close()

	b.Move("room-1", "user-a", flow.Position{X: 1, Y: 1})
	b.Stop("room-1", "user-a")

	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, rec.positions(), "no send after the participant left")
}

func TestCursorBatcher_StopRoomCancelsAllWindows(t *testing.T) {
	rec := &sendRecorder{}
	b := NewCursorBatcherWindow(20*time.Millisecond, rec.send)
	defer b.Close()

	b.Move("room-1", "user-a", flow.Position{X: 1, Y: 1})
	b.Move("room-1", "user-b", flow.Position{X: 2, Y: 2})
	b.Move("room-2", "user-c", flow.Position{X: 3, Y: 3})
	b.StopRoom("room-1")

	time.Sleep(50 * time.Millisecond)

	sends := rec.positions()
	require.Len(t, sends, 1)
	assert.Equal(t, flow.Position{X: 3, Y: 3}, sends[0])
}
