package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowsync/application/session"
	"flowsync/domain/events"
	"flowsync/domain/flow"
	"flowsync/infrastructure/cache"
	"flowsync/infrastructure/observability"
	"flowsync/infrastructure/persistence/sqlite"
	"flowsync/pkg/auth"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBroadcaster) Broadcast(roomID, excludeUserID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// The full server-side path: breaker-wrapped cache, session manager,
// periodic flusher, SQLite durability.
func TestCollaborationLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observability.NewCollector("integration")

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	defer store.Close()

	memCache := cache.NewMemoryCache(cache.DefaultTTLConfig())
	defer memCache.Close()
	roomCache := cache.NewBreakerCache(memCache, logger)

	registry := auth.NewRegistry()
	registry.Grant("user-a", "room-1", flow.RoleOwner)
	registry.Grant("user-b", "room-1", flow.RoleEditor)

	bc := &recordingBroadcaster{}
	manager := session.NewManager(roomCache, store, registry, bc, logger, metrics)
	flusher := cache.NewFlusher(roomCache, store, time.Hour, logger, metrics)

	// Two participants join and build a small graph together.
	_, _, err = manager.Join(ctx, "room-1", "user-a", "Alice")
	require.NoError(t, err)
	_, roster, err := manager.Join(ctx, "room-1", "user-b", "Bob")
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	require.NoError(t, manager.Publish(ctx, "room-1", events.NewBulkNodes("user-a", []flow.Node{
		{ID: "node-1", Type: "default", Position: flow.Position{X: 10, Y: 10}},
		{ID: "node-2", Type: "default", Position: flow.Position{X: 50, Y: 50}},
	})))
	require.NoError(t, manager.Publish(ctx, "room-1", events.NewBulkEdges("user-b", []flow.Edge{
		{ID: "edge-1", Source: "node-1", Target: "node-2"},
	})))
	require.NoError(t, manager.Publish(ctx, "room-1", events.NewGranularNodes("user-b",
		flow.NodePatch{ID: "node-1", Position: &flow.Position{X: 15, Y: 20}})))

	// Nothing durable yet; the flusher is the only bridge.
	persisted, err := store.LoadRoomSnapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, persisted)

	flusher.FlushAll(ctx)

	persisted, err = store.LoadRoomSnapshot(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Len(t, persisted.Graph.Nodes, 2)
	assert.Len(t, persisted.Graph.Edges, 1)
	node, ok := persisted.Graph.NodeByID("node-1")
	require.True(t, ok)
	assert.Equal(t, flow.Position{X: 15, Y: 20}, node.Position)

	// Everyone leaves, the cache state expires, and a later join rebuilds
	// the room from durable storage.
	manager.Leave(ctx, "room-1", "user-a")
	manager.Leave(ctx, "room-1", "user-b")
	require.NoError(t, roomCache.Cleanup(ctx, "room-1"))

	snapshot, _, err := manager.Join(ctx, "room-1", "user-b", "Bob")
	require.NoError(t, err)
	assert.Len(t, snapshot.Graph.Nodes, 2, "room rebuilt from the durable snapshot")
	assert.Equal(t, "user-a", snapshot.OwnerID, "ownership survives the round trip")
}

func TestConflictAdvisoryAcrossTheStack(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observability.NewCollector("integration")

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	defer store.Close()

	memCache := cache.NewMemoryCache(cache.DefaultTTLConfig())
	defer memCache.Close()

	registry := auth.NewRegistry()
	registry.Grant("user-a", "room-1", flow.RoleEditor)
	registry.Grant("user-b", "room-1", flow.RoleEditor)

	bc := &recordingBroadcaster{}
	manager := session.NewManager(cache.NewBreakerCache(memCache, logger), store, registry, bc, logger, metrics)

	_, _, err = manager.Join(ctx, "room-1", "user-a", "Alice")
	require.NoError(t, err)
	_, _, err = manager.Join(ctx, "room-1", "user-b", "Bob")
	require.NoError(t, err)

	require.NoError(t, manager.Publish(ctx, "room-1",
		events.NewBulkNodes("user-a", []flow.Node{{ID: "from-a"}})))
	require.NoError(t, manager.Publish(ctx, "room-1",
		events.NewBulkNodes("user-b", []flow.Node{{ID: "from-b"}})))

	bc.mu.Lock()
	defer bc.mu.Unlock()
	var sawConflict bool
	for _, e := range bc.events {
		if e == events.MsgOperationConflict {
			sawConflict = true
		}
	}
	assert.True(t, sawConflict, "near-simultaneous bulk replacements advise the room")
}
