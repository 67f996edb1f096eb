package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowsync/application/session"
	"flowsync/domain/events"
	"flowsync/domain/flow"
	"flowsync/infrastructure/cache"
	"flowsync/infrastructure/observability"
	"flowsync/infrastructure/persistence/memory"
	"flowsync/pkg/auth"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewCollector("wstest")

	memCache := cache.NewMemoryCache(cache.DefaultTTLConfig())
	t.Cleanup(memCache.Close)
	store := memory.NewStore()

	hub := NewHub(logger, metrics)
	go hub.Run()
	t.Cleanup(hub.Stop)

	manager := session.NewManager(memCache, store, auth.AllowAll{}, hub, logger, metrics)
	server := NewServer(hub, manager, auth.DevAuthenticator{}, nil, logger)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	envelope, err := events.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(envelope))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope events.Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, token string) events.RoomJoinedPayload {
	t.Helper()
	send(t, conn, events.MsgJoinRoom, events.JoinRoomPayload{RoomID: roomID, Token: token})
	envelope := readEnvelope(t, conn)
	require.Equal(t, events.MsgRoomJoined, envelope.Event)
	var payload events.RoomJoinedPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	return payload
}

func TestServer_JoinRoomReturnsSnapshotAndRoster(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)

	payload := joinRoom(t, conn, "room-1", "user-a")

	assert.Equal(t, "room-1", payload.RoomID)
	assert.Empty(t, payload.FlowData.Nodes)
	require.Len(t, payload.Participants, 1)
	assert.Equal(t, "user-a", payload.Participants[0].UserID)
}

func TestServer_JoinRequiresRoomAndToken(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)

	send(t, conn, events.MsgJoinRoom, events.JoinRoomPayload{RoomID: "room-1"})

	envelope := readEnvelope(t, conn)
	assert.Equal(t, events.MsgError, envelope.Event)
}

func TestServer_FlowChangeFansOutExcludingOrigin(t *testing.T) {
	ts := startTestServer(t)
	connA := dial(t, ts)
	connB := dial(t, ts)

	joinRoom(t, connA, "room-1", "user-a")
	joinRoom(t, connB, "room-1", "user-b")

	// A sees B's arrival.
	envelope := readEnvelope(t, connA)
	require.Equal(t, events.MsgParticipantJoined, envelope.Event)

	send(t, connA, events.MsgFlowChange, events.FlowChangePayload{
		RoomID: "room-1",
		Change: events.NewBulkNodes("user-a", []flow.Node{{ID: "node-1", Type: "default"}}),
	})

	envelope = readEnvelope(t, connB)
	require.Equal(t, events.MsgFlowChange, envelope.Event)
	var change events.FlowChangePayload
	require.NoError(t, json.Unmarshal(envelope.Data, &change))
	assert.Equal(t, events.BulkNodes, change.Change.Type)
	assert.Equal(t, "user-a", change.Change.Origin)
	require.Len(t, change.Change.Nodes, 1)

	// A must not hear its own change back.
	connA.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var echo events.Envelope
	err := connA.ReadJSON(&echo)
	assert.Error(t, err, "origin receives no echo of its own event")
}

func TestServer_ClientCannotSpoofOrigin(t *testing.T) {
	ts := startTestServer(t)
	connA := dial(t, ts)
	connB := dial(t, ts)

	joinRoom(t, connA, "room-1", "user-a")
	joinRoom(t, connB, "room-1", "user-b")
	readEnvelope(t, connA) // B's participant_joined

	// A claims its change came from B; the connection identity wins.
	send(t, connA, events.MsgFlowChange, events.FlowChangePayload{
		RoomID: "room-1",
		Change: events.NewBulkNodes("user-b", []flow.Node{{ID: "node-1"}}),
	})

	envelope := readEnvelope(t, connB)
	require.Equal(t, events.MsgFlowChange, envelope.Event)
	var change events.FlowChangePayload
	require.NoError(t, json.Unmarshal(envelope.Data, &change))
	assert.Equal(t, "user-a", change.Change.Origin)
}

func TestServer_CursorMoveRebroadcasts(t *testing.T) {
	ts := startTestServer(t)
	connA := dial(t, ts)
	connB := dial(t, ts)

	joinRoom(t, connA, "room-1", "user-a")
	joinRoom(t, connB, "room-1", "user-b")
	readEnvelope(t, connA) // B's participant_joined

	send(t, connA, events.MsgCursorMove, events.CursorMovePayload{X: 42, Y: 17})

	envelope := readEnvelope(t, connB)
	require.Equal(t, events.MsgCursorMove, envelope.Event)
	var cursor events.CursorBroadcastPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &cursor))
	assert.Equal(t, "user-a", cursor.UserID)
	assert.Equal(t, flow.Position{X: 42, Y: 17}, cursor.Cursor)
}

func TestServer_DisconnectAnnouncesDeparture(t *testing.T) {
	ts := startTestServer(t)
	connA := dial(t, ts)
	connB := dial(t, ts)

	joinRoom(t, connA, "room-1", "user-a")
	joinRoom(t, connB, "room-1", "user-b")
	readEnvelope(t, connA) // B's participant_joined

	connB.Close()

	envelope := readEnvelope(t, connA)
	require.Equal(t, events.MsgParticipantLeft, envelope.Event)
	var left events.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &left))
	assert.Equal(t, "user-b", left.UserID)
}
