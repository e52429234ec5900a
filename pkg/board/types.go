package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is the authoritative record of one card on the board.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	AssignedTo   []string   `json:"assignedTo"`
	CreatedBy    string     `json:"createdBy"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastModified time.Time  `json:"lastModified"`
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

// Columns lists the board columns in display order.
var Columns = []Status{StatusTodo, StatusInProgress, StatusDone}

// IsColumnName reports whether title would be confused with a board column.
func IsColumnName(title string) bool {
	title = strings.TrimSpace(title)
	for _, col := range Columns {
		if strings.EqualFold(title, string(col)) {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status counts towards a user's open workload.
func (s Status) IsOpen() bool {
	return s == StatusTodo || s == StatusInProgress
}

// Field names a mutable task field. Used by merge rules.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldPriority    Field = "priority"
	FieldStatus      Field = "status"
	FieldAssignedTo  Field = "assignedTo"
	FieldDueDate     Field = "dueDate"
)

// MutableFields lists every field a client may change.
var MutableFields = []Field{FieldTitle, FieldDescription, FieldPriority, FieldStatus, FieldAssignedTo, FieldDueDate}

// ParseField accepts the camelCase wire name or its snake_case spelling.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "title":
		return FieldTitle, nil
	case "description":
		return FieldDescription, nil
	case "priority":
		return FieldPriority, nil
	case "status":
		return FieldStatus, nil
	case "assignedto":
		return FieldAssignedTo, nil
	case "duedate":
		return FieldDueDate, nil
	default:
		return "", fmt.Errorf("unknown task field: %q", s)
	}
}

// TaskFields is a partial update. Nil pointers leave the field untouched.
// ClearDueDate removes the due date and wins over DueDate.
type TaskFields struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	AssignedTo   *[]string  `json:"assignedTo,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (f TaskFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.Priority == nil && f.Status == nil &&
		f.AssignedTo == nil && f.DueDate == nil && !f.ClearDueDate
}

// ApplyTo copies the set fields onto t. LastModified is not touched.
func (f TaskFields) ApplyTo(t *Task) {
	if f.Title != nil {
		t.Title = strings.TrimSpace(*f.Title)
	}
	if f.Description != nil {
		t.Description = strings.TrimSpace(*f.Description)
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
	if f.Status != nil {
		t.Status = *f.Status
	}
	if f.AssignedTo != nil {
		t.AssignedTo = append([]string{}, (*f.AssignedTo)...)
	}
	if f.ClearDueDate {
		t.DueDate = nil
	} else if f.DueDate != nil {
		d := f.DueDate.UTC()
		t.DueDate = &d
	}
}

// Validate checks the set fields only.
func (f TaskFields) Validate() error {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if f.Priority != nil {
		if err := f.Priority.Validate(); err != nil {
			return err
		}
	}
	if f.Status != nil {
		if err := f.Status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FieldsFromTask returns an update that sets every mutable field to t's value.
func FieldsFromTask(t *Task) TaskFields {
	title := t.Title
	description := t.Description
	priority := t.Priority
	status := t.Status
	assigned := append([]string{}, t.AssignedTo...)
	f := TaskFields{
		Title:       &title,
		Description: &description,
		Priority:    &priority,
		Status:      &status,
		AssignedTo:  &assigned,
	}
	if t.DueDate != nil {
		d := *t.DueDate
		f.DueDate = &d
	} else {
		f.ClearDueDate = true
	}
	return f
}

// Activity is one append-only audit entry.
type Activity struct {
	ID        string         `json:"id"`
	Type      ActivityType   `json:"type"`
	TaskID    string         `json:"taskId"`
	UserID    string         `json:"userId"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewActivity builds an activity with a fresh ID.
func NewActivity(typ ActivityType, taskID, userID string, details map[string]any, at time.Time) *Activity {
	return &Activity{
		ID:        uuid.New().String(),
		Type:      typ,
		TaskID:    taskID,
		UserID:    userID,
		Details:   details,
		Timestamp: at.UTC(),
	}
}

// ActivityType classifies an audit entry.
type ActivityType string

const (
	ActivityTaskCreated        ActivityType = "Task Created"
	ActivityTaskUpdated        ActivityType = "Task Updated"
	ActivityTaskDeleted        ActivityType = "Task Deleted"
	ActivityTaskAssigned       ActivityType = "Task Assigned"
	ActivityTaskStatusChanged  ActivityType = "Task Status Changed"
	ActivityTaskTitleChanged   ActivityType = "Task Title Changed"
	ActivityTaskDueDateChanged ActivityType = "Task Due Date Changed"
	ActivityTaskAssignedSmart  ActivityType = "Task Assigned (Smart)"
	ActivityCommentAdded       ActivityType = "Comment Added"
	ActivityConflictResolved   ActivityType = "Conflict Resolved"
)

// Comment is a note attached to a task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the display data kept for an authenticated identity.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName falls back from name to email to id.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}

	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title cannot be empty")
	}

	if err := t.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}

	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if t.CreatedBy == "" {
		return fmt.Errorf("created_by cannot be empty")
	}

	return nil
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("unknown priority: %q", p)
	}
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Validate checks if the Activity has valid field values.
func (a *Activity) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid activity ID: not a valid UUID")
	}
	if a.Type == "" {
		return fmt.Errorf("activity type cannot be empty")
	}
	if a.TaskID == "" {
		return fmt.Errorf("activity task ID cannot be empty")
	}
	if a.UserID == "" {
		return fmt.Errorf("activity user ID cannot be empty")
	}
	return nil
}

// Validate checks if the Comment has valid field values.
func (c *Comment) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid comment ID: not a valid UUID")
	}
	if c.TaskID == "" || c.UserID == "" {
		return fmt.Errorf("comment requires task and user")
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("comment content cannot be empty")
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
