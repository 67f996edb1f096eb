package localsync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowsync/domain/events"
	"flowsync/domain/flow"
)

func newTabPair(t *testing.T) (*Engine, *Engine) {
	t.Helper()
	bus := NewBus()
	a := NewEngineWindow(bus.NewTransport("tab-a"), zap.NewNop(), 20*time.Millisecond)
	b := NewEngineWindow(bus.NewTransport("tab-b"), zap.NewNop(), 20*time.Millisecond)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func nodeIDs(g flow.Graph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestEngine_AddNodePropagatesBetweenTabs(t *testing.T) {
	a, b := newTabPair(t)

	a.AddNode(flow.Node{ID: "node-1", Type: "default"})

	assert.Equal(t, []string{"node-1"}, nodeIDs(b.Graph()))
	assert.Equal(t, []string{"node-1"}, nodeIDs(a.Graph()))
}

func TestEngine_ConcurrentAddsBothSurvive(t *testing.T) {
	a, b := newTabPair(t)

	a.AddNode(flow.Node{ID: "alpha"})
	b.AddNode(flow.Node{ID: "beta"})

	assert.ElementsMatch(t, []string{"alpha", "beta"}, nodeIDs(a.Graph()),
		"two tabs adding in the same cycle must not lose either node")
	assert.ElementsMatch(t, []string{"alpha", "beta"}, nodeIDs(b.Graph()))
}

func TestEngine_TombstoneKeepsDeletionDeleted(t *testing.T) {
	a, b := newTabPair(t)

	a.AddNode(flow.Node{ID: "node-1"})
	require.Len(t, b.Graph().Nodes, 1)

	b.RemoveNode("node-1")

	assert.Empty(t, a.Graph().Nodes, "the union merge must not resurrect a tombstoned node")
	assert.Empty(t, b.Graph().Nodes)
}

func TestEngine_StaleCommitIsDropped(t *testing.T) {
	bus := NewBus()
	e := NewEngineWindow(bus.NewTransport("tab-a"), zap.NewNop(), time.Millisecond)
	defer e.Close()
	injector := bus.NewTransport("injector")
	defer injector.Close()

	require.NoError(t, injector.Publish(Commit{
		Timestamp: 100,
		Origin:    "injector",
		Event:     events.NewBulkNodes("injector", []flow.Node{{ID: "newer"}}),
	}))
	require.Equal(t, []string{"newer"}, nodeIDs(e.Graph()))

	// An older commit arriving late must not roll the graph back.
	require.NoError(t, injector.Publish(Commit{
		Timestamp: 50,
		Origin:    "injector",
		Event:     events.NewBulkNodes("injector", []flow.Node{{ID: "older"}}),
	}))

	assert.Equal(t, []string{"newer"}, nodeIDs(e.Graph()))
}

func TestEngine_EqualTimestampIsDropped(t *testing.T) {
	bus := NewBus()
	e := NewEngineWindow(bus.NewTransport("tab-a"), zap.NewNop(), time.Millisecond)
	defer e.Close()
	injector := bus.NewTransport("injector")
	defer injector.Close()

	require.NoError(t, injector.Publish(Commit{
		Timestamp: 100,
		Origin:    "injector",
		Event:     events.NewBulkNodes("injector", []flow.Node{{ID: "first"}}),
	}))
	require.NoError(t, injector.Publish(Commit{
		Timestamp: 100,
		Origin:    "injector",
		Event:     events.NewBulkNodes("injector", []flow.Node{{ID: "second"}}),
	}))

	assert.Equal(t, []string{"first"}, nodeIDs(e.Graph()),
		"ties resolve to the already-applied commit")
}

func TestEngine_OwnCommitIsNotReapplied(t *testing.T) {
	bus := NewBus()
	e := NewEngineWindow(bus.NewTransport("tab-a"), zap.NewNop(), time.Millisecond)
	defer e.Close()

	e.AddNode(flow.Node{ID: "node-1"})

	// With no peers the graph only holds the local optimistic state, and
	// no self-delivery doubled it.
	assert.Len(t, e.Graph().Nodes, 1)
}

func TestEngine_MoveNodeIsDebounced(t *testing.T) {
	a, b := newTabPair(t)

	a.AddNode(flow.Node{ID: "node-1"})
	a.MoveNode("node-1", flow.Position{X: 1, Y: 1})
	a.MoveNode("node-1", flow.Position{X: 2, Y: 2})
	a.MoveNode("node-1", flow.Position{X: 3, Y: 3})

	// Before the window closes the peer still has the original position.
	gb := b.Graph()
	nb, ok := gb.NodeByID("node-1")
	require.True(t, ok)
	assert.Equal(t, flow.Position{}, nb.Position)

	time.Sleep(60 * time.Millisecond)

	gb = b.Graph()
	nb, ok = gb.NodeByID("node-1")
	require.True(t, ok)
	assert.Equal(t, flow.Position{X: 3, Y: 3}, nb.Position,
		"only the final debounced position crosses the transport")
}

func TestEngine_EditsOnRemovedNodeAreHarmless(t *testing.T) {
	a, b := newTabPair(t)

	a.AddNode(flow.Node{ID: "node-1"})
	a.EditNodeField("node-1", "label", "late")
	b.RemoveNode("node-1")

	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, b.Graph().Nodes, "the late patch does not resurrect the node")
}

func TestEngine_ConcurrentIDCollisionKeepsBothNodes(t *testing.T) {
	a, b := newTabPair(t)

	// Both tabs mint "node-1" for different logical nodes before syncing.
	b.graph.Nodes = append(b.graph.Nodes, flow.Node{ID: "node-1", Type: "circle"})
	a.AddNode(flow.Node{ID: "node-1", Type: "square"})

	g := b.Graph()
	require.Len(t, g.Nodes, 2, "differing contents under one id keep both nodes")
	assert.NotEqual(t, g.Nodes[0].ID, g.Nodes[1].ID, "the local copy was renamed")
}

func TestEngine_ObserversSeeMergedGraph(t *testing.T) {
	a, b := newTabPair(t)

	got := make(chan flow.Graph, 4)
	unsubscribe := b.Subscribe(func(g flow.Graph) { got <- g })
	defer unsubscribe()

	a.AddNode(flow.Node{ID: "node-1"})

	select {
	case g := <-got:
		assert.Equal(t, []string{"node-1"}, nodeIDs(g))
	case <-time.After(time.Second):
		t.Fatal("observer was not notified")
	}
}

func TestFileTransport_DeliversToOtherSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localsync.bin")

	writer, err := NewFileTransport(path, "tab-w")
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewFileTransport(path, "tab-r")
	require.NoError(t, err)
	defer reader.Close()

	received := make(chan Commit, 1)
	reader.Subscribe(func(c Commit) { received <- c })

	require.NoError(t, writer.Publish(Commit{
		Timestamp: 1,
		Origin:    "tab-w",
		Event:     events.NewBulkNodes("tab-w", []flow.Node{{ID: "node-1"}}),
	}))

	select {
	case c := <-received:
		assert.Equal(t, "tab-w", c.Origin)
		assert.Len(t, c.Event.Nodes, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("commit never arrived over the file transport")
	}
}

func TestFileTransport_SuppressesOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localsync.bin")

	tr, err := NewFileTransport(path, "tab-w")
	require.NoError(t, err)
	defer tr.Close()

	received := make(chan Commit, 1)
	tr.Subscribe(func(c Commit) { received <- c })

	require.NoError(t, tr.Publish(Commit{Timestamp: 1, Origin: "tab-w"}))

	select {
	case <-received:
		t.Fatal("a session must not receive its own published commit")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSelect_PrefersBusOverFile(t *testing.T) {
	bus := NewBus()

	tr, err := Select(bus, "tab-a", "")
	require.NoError(t, err)
	defer tr.Close()

	_, isChannel := tr.(*ChannelTransport)
	assert.True(t, isChannel)

	fallback, err := Select(nil, "tab-b", filepath.Join(t.TempDir(), "sync.bin"))
	require.NoError(t, err)
	defer fallback.Close()
	_, isFile := fallback.(*FileTransport)
	assert.True(t, isFile)
}
