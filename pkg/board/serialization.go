package board

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Tasks are stored as hashes so single fields stay inspectable with redis-cli.
// The assignee list is JSON-encoded into one field; timestamps are Unix
// milliseconds; the due date is RFC 3339 or empty.

// TaskToHash converts a Task struct to a Redis hash format.
func TaskToHash(t *Task) (map[string]interface{}, error) {
	assigned := t.AssignedTo
	if assigned == nil {
		assigned = []string{}
	}
	assignedJSON, err := json.Marshal(assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assigned_to: %w", err)
	}

	dueDate := ""
	if t.DueDate != nil {
		dueDate = t.DueDate.UTC().Format(time.RFC3339)
	}

	hash := map[string]interface{}{
		"id":               t.ID,
		"title":            t.Title,
		"description":      t.Description,
		"priority":         string(t.Priority),
		"status":           string(t.Status),
		"assigned_to":      string(assignedJSON),
		"created_by":       t.CreatedBy,
		"due_date":         dueDate,
		"created_at_ms":    t.CreatedAt.UnixMilli(),
		"last_modified_ms": t.LastModified.UnixMilli(),
	}

	return hash, nil
}

// HashToTask converts a Redis hash to a Task struct.
func HashToTask(hash map[string]string) (*Task, error) {
	var assigned []string
	if assignedJSON := hash["assigned_to"]; assignedJSON != "" {
		if err := json.Unmarshal([]byte(assignedJSON), &assigned); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned_to: %w", err)
		}
	}

	// Ensure we have an empty slice instead of nil for consistency
	if assigned == nil {
		assigned = []string{}
	}

	createdAtMs, err := parseMillis(hash["created_at_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}
	lastModifiedMs, err := parseMillis(hash["last_modified_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_modified_ms field: %w", err)
	}

	task := &Task{
		ID:           hash["id"],
		Title:        hash["title"],
		Description:  hash["description"],
		Priority:     Priority(hash["priority"]),
		Status:       Status(hash["status"]),
		AssignedTo:   assigned,
		CreatedBy:    hash["created_by"],
		CreatedAt:    time.UnixMilli(createdAtMs).UTC(),
		LastModified: time.UnixMilli(lastModifiedMs).UTC(),
	}

	if raw := hash["due_date"]; raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid due_date field: %w", err)
		}
		due = due.UTC()
		task.DueDate = &due
	}

	return task, nil
}

func parseMillis(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ActivityScore converts an activity timestamp to a Redis ZSET score.
func ActivityScore(ts time.Time) float64 {
	return float64(ts.UnixMilli())
}
