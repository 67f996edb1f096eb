package events

import (
	"encoding/json"
	"time"

	"flowsync/domain/flow"
)

// Protocol message names for the bidirectional room channel.
const (
	MsgJoinRoom          = "join_room"
	MsgRoomJoined        = "room_joined"
	MsgLeaveRoom         = "leave_room"
	MsgFlowChange        = "flow_change"
	MsgCursorMove        = "cursor_move"
	MsgParticipantJoined = "participant_joined"
	MsgParticipantLeft   = "participant_left"
	MsgOperationConflict = "operation_conflict"
	MsgError             = "error"
)

// Envelope frames every message on the room channel. Data is shaped by
// Event, decoded lazily by the receiving side.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a framed message.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinRoomPayload is sent by a client to enter a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	Token  string `json:"token" validate:"required"`
}

// RoomJoinedPayload answers a successful join with the current snapshot
// and roster.
type RoomJoinedPayload struct {
	RoomID       string             `json:"roomId"`
	FlowData     flow.Graph         `json:"flowData"`
	Participants []flow.Participant `json:"participants"`
}

// LeaveRoomPayload is sent by a client leaving a room; it has no reply.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// FlowChangePayload carries a graph mutation in either direction.
type FlowChangePayload struct {
	RoomID string      `json:"roomId" validate:"required"`
	Change ChangeEvent `json:"change" validate:"required"`
}

// CursorMovePayload is a client-to-server pointer update.
type CursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorBroadcastPayload is the server-to-clients rebroadcast form.
type CursorBroadcastPayload struct {
	UserID string        `json:"userId"`
	Cursor flow.Position `json:"cursor"`
}

// ParticipantJoinedPayload announces a new room member.
type ParticipantJoinedPayload struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Role     flow.Role `json:"role"`
	IsActive bool      `json:"isActive"`
}

// ParticipantLeftPayload announces a departure.
type ParticipantLeftPayload struct {
	UserID string `json:"userId"`
}

// OperationConflictPayload is an advisory that two bulk replacements
// raced. The server applies last-received-wins and never rolls back;
// clients may surface a warning.
type OperationConflictPayload struct {
	Type       ChangeType `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
	Reason     string     `json:"reason"`
	Suggestion string     `json:"suggestion"`
}

// ErrorPayload reports a protocol-level failure to the immediate caller.
type ErrorPayload struct {
	Message string `json:"message"`
}
