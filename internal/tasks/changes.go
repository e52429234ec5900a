package tasks

import (
	"context"
	"sort"
	"time"

	"github.com/Nash0810/kollab-board/pkg/board"
)

// Change is a before/after pair recorded in an activity's details.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// diff returns the tracked changes between two versions of a task, keyed by field.
// Assignees are compared as sets and reported by display name; due dates are
// compared by calendar day.
func (s *Service) diff(ctx context.Context, before, after *board.Task) map[string]Change {
	changes := make(map[string]Change)

	if before.Title != after.Title {
		changes[string(board.FieldTitle)] = Change{From: before.Title, To: after.Title}
	}
	if before.Description != after.Description {
		changes[string(board.FieldDescription)] = Change{From: before.Description, To: after.Description}
	}
	if before.Priority != after.Priority {
		changes[string(board.FieldPriority)] = Change{From: string(before.Priority), To: string(after.Priority)}
	}
	if before.Status != after.Status {
		changes[string(board.FieldStatus)] = Change{From: string(before.Status), To: string(after.Status)}
	}

	oldIDs, newIDs := sortedCopy(before.AssignedTo), sortedCopy(after.AssignedTo)
	if !equalStrings(oldIDs, newIDs) {
		changes[string(board.FieldAssignedTo)] = Change{From: s.displayNames(ctx, oldIDs), To: s.displayNames(ctx, newIDs)}
	}

	if oldDue, newDue := dueDay(before.DueDate), dueDay(after.DueDate); oldDue != newDue {
		changes[string(board.FieldDueDate)] = Change{From: nullable(oldDue), To: nullable(newDue)}
	}

	return changes
}

// changeActivityType picks the activity type for a set of changes.
// Precedence: status, assignees, title, due date; anything else is a plain update.
func changeActivityType(changes map[string]Change) board.ActivityType {
	switch {
	case has(changes, board.FieldStatus):
		return board.ActivityTaskStatusChanged
	case has(changes, board.FieldAssignedTo):
		return board.ActivityTaskAssigned
	case has(changes, board.FieldTitle):
		return board.ActivityTaskTitleChanged
	case has(changes, board.FieldDueDate):
		return board.ActivityTaskDueDateChanged
	default:
		return board.ActivityTaskUpdated
	}
}

func (s *Service) displayNames(ctx context.Context, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			names = append(names, id)
			continue
		}
		names = append(names, u.DisplayName())
	}
	return names
}

func has(changes map[string]Change, f board.Field) bool {
	_, ok := changes[string(f)]
	return ok
}

func dueDay(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format(time.DateOnly)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
