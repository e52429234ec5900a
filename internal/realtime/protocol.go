package realtime

import "time"

// Client requests.
const (
	EventIdentify  = "identify"
	EventBeginEdit = "begin-edit"
	EventEndEdit   = "end-edit"
	EventJoinTask  = "join-task"
	EventLeaveTask = "leave-task"
	EventPing      = "ping"
)

// Direct replies. Broadcast events are listed in pkg/board.
const (
	EventIdentified  = "identified"
	EventEditGranted = "edit-granted"
	EventEditEnded   = "edit-ended"
	EventPong        = "pong"
	EventError       = "error"
)

// IdentifyRequest is the payload of identify.
type IdentifyRequest struct {
	UserID string `json:"userId"`
}

// TaskRequest is the payload of begin-edit, end-edit, join-task and leave-task.
type TaskRequest struct {
	TaskID string `json:"taskId"`
}

// IdentifiedPayload confirms the connection's identity.
type IdentifiedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// EditGrantedPayload confirms the requester holds the lock.
type EditGrantedPayload struct {
	TaskID   string    `json:"taskId"`
	EditorID string    `json:"editorId"`
	Since    time.Time `json:"since"`
}

// EditEndedPayload reports whether end-edit released a lock.
type EditEndedPayload struct {
	TaskID   string `json:"taskId"`
	Released bool   `json:"released"`
}

// ErrorPayload is sent when a request fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"` // the request that failed
}
