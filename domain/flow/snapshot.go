package flow

import "time"

// Snapshot is the persisted unit of room state: the full graph plus the
// identity of the owning principal and the time it was last synced to
// durable storage.
type Snapshot struct {
	RoomID       string    `json:"roomId" msgpack:"roomId"`
	OwnerID      string    `json:"ownerId" msgpack:"ownerId"`
	Graph        Graph     `json:"graph" msgpack:"graph"`
	LastSyncedAt time.Time `json:"lastSyncedAt" msgpack:"lastSyncedAt"`
}

// NewSnapshot creates an empty snapshot owned by the given principal.
func NewSnapshot(roomID, ownerID string) *Snapshot {
	return &Snapshot{
		RoomID:  roomID,
		OwnerID: ownerID,
		Graph:   NewGraph(),
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Graph = s.Graph.Clone()
	return &c
}
