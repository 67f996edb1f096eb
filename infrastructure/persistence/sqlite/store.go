// Package sqlite persists room snapshots in a local SQLite database. The
// whole graph is stored as one msgpack blob per room; saves are upserts,
// so a retried flush is idempotent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"flowsync/application/ports"
	"flowsync/domain/flow"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	room_id     TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	graph       BLOB NOT NULL,
	last_synced INTEGER NOT NULL
);`

// Store implements ports.DurableStore over SQLite.
type Store struct {
	db *sql.DB
}

var _ ports.DurableStore = (*Store)(nil)

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; serialize access through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadRoomSnapshot returns nil with no error when the room was never
// persisted.
func (s *Store) LoadRoomSnapshot(ctx context.Context, roomID string) (*flow.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, graph, last_synced FROM room_snapshots WHERE room_id = ?`, roomID)

	var (
		ownerID    string
		graphBlob  []byte
		lastSynced int64
	)
	if err := row.Scan(&ownerID, &graphBlob, &lastSynced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot for room %s: %w", roomID, err)
	}

	var graph flow.Graph
	if err := msgpack.Unmarshal(graphBlob, &graph); err != nil {
		return nil, fmt.Errorf("decode graph for room %s: %w", roomID, err)
	}
	return &flow.Snapshot{
		RoomID:       roomID,
		OwnerID:      ownerID,
		Graph:        graph,
		LastSyncedAt: time.Unix(lastSynced, 0).UTC(),
	}, nil
}

// SaveRoomSnapshot replaces the room's snapshot wholesale.
func (s *Store) SaveRoomSnapshot(ctx context.Context, snapshot *flow.Snapshot) error {
	graphBlob, err := msgpack.Marshal(snapshot.Graph)
	if err != nil {
		return fmt.Errorf("encode graph for room %s: %w", snapshot.RoomID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, owner_id, graph, last_synced)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			graph = excluded.graph,
			last_synced = excluded.last_synced`,
		snapshot.RoomID, snapshot.OwnerID, graphBlob, snapshot.LastSyncedAt.Unix())
	if err != nil {
		return fmt.Errorf("save snapshot for room %s: %w", snapshot.RoomID, err)
	}
	return nil
}
