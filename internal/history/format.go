package history

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Nash0810/kollab-board/internal/printer"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// FormatTable writes activities as a table with the columns AGE, TYPE, TASK,
// USER and DETAILS. Returns the number of activities written.
func FormatTable(w io.Writer, activities []*board.Activity, boardName string, now time.Time) int {
	if len(activities) == 0 {
		fmt.Fprintf(w, "No activity found on board '%s'\n", boardName)
		return 0
	}

	fmt.Fprintf(w, "Activity on board '%s':\n\n", boardName)

	rows := make([][]string, 0, len(activities))
	for _, a := range activities {
		rows = append(rows, []string{
			formatAge(a.Timestamp, now),
			string(a.Type),
			formatID(a.TaskID),
			orDash(a.UserID),
			formatDetails(a.Details),
		})
	}
	printer.New(w, w).Table([]string{"AGE", "TYPE", "TASK", "USER", "DETAILS"}, rows)

	noun := "activity"
	if len(activities) != 1 {
		noun = "activities"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(activities), noun)

	return len(activities)
}

// FormatJSONL writes one JSON object per activity per line, for piping to jq.
func FormatJSONL(w io.Writer, activities []*board.Activity) error {
	for _, a := range activities {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal activity to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// formatID truncates a task ID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func formatAge(ts, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return strings.TrimSpace(humanize.RelTime(ts, now, "ago", "from now"))
}

// formatDetails renders details as sorted key=value pairs, capped at 40 characters.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}

	out := strings.Join(parts, ", ")
	if len(out) > 40 {
		return out[:37] + "..."
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
