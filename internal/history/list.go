// Package history renders the board's activity log for the command line.
package history

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Nash0810/kollab-board/internal/filter"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// OutputFormat specifies how to format the activity list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with one row per activity.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete activities as line-delimited JSON.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat accepts "default" or "jsonl".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q: must be 'default' or 'jsonl'", s)
	}
}

// Store is the slice of the board client the listing needs.
type Store interface {
	ListActivities(ctx context.Context, taskID string, limit int64) ([]*board.Activity, error)
}

// ListActivities reads the activity log newest first, applies the criteria and
// writes at most limit entries to w. A limit of zero lists everything.
// When criteria.TaskID is set only that task's log is read.
func ListActivities(ctx context.Context, store Store, boardName string, format OutputFormat, criteria filter.Criteria, limit int, w io.Writer, now time.Time) error {
	if err := criteria.Validate(); err != nil {
		return fmt.Errorf("invalid type pattern: %w", err)
	}

	// Filters apply after the read, so a filtered listing must scan the whole log.
	fetch := int64(limit)
	if criteria.HasFilters() {
		fetch = 0
	}

	activities, err := store.ListActivities(ctx, criteria.TaskID, fetch)
	if err != nil {
		return fmt.Errorf("failed to list activities: %w", err)
	}

	matched := make([]*board.Activity, 0, len(activities))
	for _, a := range activities {
		if !criteria.Matches(a) {
			continue
		}
		matched = append(matched, a)
		if limit > 0 && len(matched) == limit {
			break
		}
	}

	switch format {
	case OutputFormatJSONL:
		return FormatJSONL(w, matched)
	default:
		FormatTable(w, matched, boardName, now)
		return nil
	}
}
