package localsync

import "sync"

// Bus is the in-process broadcast primitive: a publish/subscribe channel
// scoped to one origin (one browser profile, one test process). It is the
// primary transport; delivery excludes the publisher.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	members map[int]*ChannelTransport
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{members: make(map[int]*ChannelTransport)}
}

// NewTransport attaches a new participant to the bus.
func (b *Bus) NewTransport(origin string) *ChannelTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &ChannelTransport{bus: b, id: b.nextID, origin: origin}
	b.members[b.nextID] = t
	b.nextID++
	return t
}

func (b *Bus) publish(from int, c Commit) {
	b.mu.RLock()
	targets := make([]*ChannelTransport, 0, len(b.members))
	for id, t := range b.members {
		if id != from {
			targets = append(targets, t)
		}
	}
	b.mu.RUnlock()
	for _, t := range targets {
		t.deliver(c)
	}
}

func (b *Bus) detach(id int) {
	b.mu.Lock()
	delete(b.members, id)
	b.mu.Unlock()
}

// ChannelTransport is one tab's handle on the bus.
type ChannelTransport struct {
	bus    *Bus
	id     int
	origin string

	mu      sync.Mutex
	handler func(Commit)
}

var _ LocalTransport = (*ChannelTransport)(nil)

// Publish broadcasts to every other bus member.
func (t *ChannelTransport) Publish(c Commit) error {
	t.bus.publish(t.id, c)
	return nil
}

// Subscribe sets the inbound handler.
func (t *ChannelTransport) Subscribe(fn func(Commit)) func() {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}
}

// Close detaches from the bus.
func (t *ChannelTransport) Close() error {
	t.bus.detach(t.id)
	return nil
}

func (t *ChannelTransport) deliver(c Commit) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(c)
	}
}
