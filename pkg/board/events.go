package board

import (
	"encoding/json"
	"fmt"
	"time"
)

// Realtime event names, shared by the server and its clients.
const (
	EventTaskUpdated   = "task-updated"
	EventTaskLocked    = "task-locked"
	EventTaskUnlocked  = "task-unlocked"
	EventEditConflict  = "edit-conflict"
	EventActivityAdded = "activity-added"
	EventCommentAdded  = "comment-added"
)

// ScopeKind selects which connections receive an envelope.
type ScopeKind string

const (
	ScopeKindAll           ScopeKind = "all"
	ScopeKindAllExcept     ScopeKind = "all_except"
	ScopeKindAllExceptUser ScopeKind = "all_except_user"
	ScopeKindConnection    ScopeKind = "connection"
	ScopeKindUser          ScopeKind = "user"
	ScopeKindTaskRoom      ScopeKind = "task_room"
)

// Scope is the delivery target of an envelope. Only the field matching Kind is set.
type Scope struct {
	Kind         ScopeKind `json:"kind"`
	ConnectionID string    `json:"connectionId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	TaskID       string    `json:"taskId,omitempty"`
}

// ScopeAll targets every connection.
func ScopeAll() Scope { return Scope{Kind: ScopeKindAll} }

// ScopeAllExcept targets every connection but one.
func ScopeAllExcept(connectionID string) Scope {
	return Scope{Kind: ScopeKindAllExcept, ConnectionID: connectionID}
}

// ScopeAllExceptUser targets every connection not bound to userID.
func ScopeAllExceptUser(userID string) Scope {
	return Scope{Kind: ScopeKindAllExceptUser, UserID: userID}
}

// ScopeConnection targets a single connection.
func ScopeConnection(connectionID string) Scope {
	return Scope{Kind: ScopeKindConnection, ConnectionID: connectionID}
}

// ScopeUser targets every connection bound to userID.
func ScopeUser(userID string) Scope {
	return Scope{Kind: ScopeKindUser, UserID: userID}
}

// ScopeTaskRoom targets connections that joined the task's room.
func ScopeTaskRoom(taskID string) Scope {
	return Scope{Kind: ScopeKindTaskRoom, TaskID: taskID}
}

// Validate checks that the scope carries the identifier its kind needs.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindAll:
		return nil
	case ScopeKindAllExcept, ScopeKindConnection:
		if s.ConnectionID == "" {
			return fmt.Errorf("scope %s requires a connection ID", s.Kind)
		}
	case ScopeKindAllExceptUser, ScopeKindUser:
		if s.UserID == "" {
			return fmt.Errorf("scope %s requires a user ID", s.Kind)
		}
	case ScopeKindTaskRoom:
		if s.TaskID == "" {
			return fmt.Errorf("scope %s requires a task ID", s.Kind)
		}
	default:
		return fmt.Errorf("unknown scope kind: %q", s.Kind)
	}
	return nil
}

// Envelope is one realtime event in flight on the board's event channel.
// Seq increases monotonically per Origin and is used to check publish order.
type Envelope struct {
	Event   string          `json:"event"`
	Scope   Scope           `json:"scope"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
	Seq     uint64          `json:"seq"`
	SentAt  time.Time       `json:"sentAt"`
}

// Frame is what a realtime client receives on its socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame renders the client-facing frame for this envelope.
func (e *Envelope) Frame() ([]byte, error) {
	return json.Marshal(Frame{Event: e.Event, Data: e.Payload})
}

// LockPayload is carried by task-locked.
type LockPayload struct {
	TaskID   string    `json:"taskId"`
	EditorID string    `json:"editorId"`
	Since    time.Time `json:"since"`
}

// UnlockPayload is carried by task-unlocked.
type UnlockPayload struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

// ConflictPayload is carried by edit-conflict, sent only to the losing requester.
type ConflictPayload struct {
	TaskID        string    `json:"taskId"`
	CurrentEditor string    `json:"currentEditor"`
	Since         time.Time `json:"since"`
}

// DeletedPayload is carried by task-updated when a task is removed.
type DeletedPayload struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
