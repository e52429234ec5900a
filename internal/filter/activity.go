package filter

import (
	"path/filepath"
	"time"

	"github.com/Nash0810/kollab-board/pkg/board"
)

// Criteria defines filtering criteria for activity log entries.
// All filters are ANDed together. Zero values match everything.
type Criteria struct {
	Since    time.Time // inclusive lower bound on Timestamp
	Until    time.Time // inclusive upper bound on Timestamp
	TypeGlob string    // glob pattern for the activity type, e.g. "Task*"
	UserID   string    // exact match on the acting user
	TaskID   string    // exact match on the task
}

// Matches returns true if the activity matches all filter criteria.
func (c *Criteria) Matches(a *board.Activity) bool {
	if !c.Since.IsZero() && a.Timestamp.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && a.Timestamp.After(c.Until) {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(a.Type))
		if err != nil || !matched {
			return false
		}
	}

	if c.UserID != "" && a.UserID != c.UserID {
		return false
	}
	if c.TaskID != "" && a.TaskID != c.TaskID {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.TypeGlob != "" ||
		c.UserID != "" ||
		c.TaskID != ""
}

// Validate rejects malformed glob patterns up front.
func (c *Criteria) Validate() error {
	if c.TypeGlob == "" {
		return nil
	}
	_, err := filepath.Match(c.TypeGlob, "")
	return err
}
