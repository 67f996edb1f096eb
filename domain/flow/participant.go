package flow

// Role is a participant's capability level inside one room.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// CanEdit reports whether the role allows graph mutation.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Participant is one principal's presence inside a room. A principal
// appears at most once per room roster.
type Participant struct {
	UserID   string    `json:"userId" msgpack:"userId"`
	Name     string    `json:"name" msgpack:"name"`
	Role     Role      `json:"role" msgpack:"role"`
	Cursor   *Position `json:"cursor,omitempty" msgpack:"cursor,omitempty"`
	IsActive bool      `json:"isActive" msgpack:"isActive"`
}
