package resolver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// Policy is the user's choice for settling an edit conflict.
type Policy string

const (
	// Merge takes the proposal except for the fields the merge rule keeps from the server.
	Merge Policy = "merge"
	// Overwrite replaces every mutable field with the proposal.
	Overwrite Policy = "overwrite"
	// Discard drops the proposal and keeps the server record.
	Discard Policy = "discard"
)

// ParsePolicy rejects anything other than merge, overwrite or discard.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Merge, Overwrite, Discard:
		return p, nil
	default:
		return "", apperr.Newf(apperr.InvalidArgument, "invalid resolution type %q (expected merge, overwrite or discard)", s)
	}
}

// MergeRule names the fields a merge keeps from the server record.
type MergeRule struct {
	keep map[board.Field]bool
}

// DefaultMergeRule keeps status and assignees, the fields most likely to have been
// changed by the other editor.
func DefaultMergeRule() MergeRule {
	return NewMergeRule(board.FieldStatus, board.FieldAssignedTo)
}

// NewMergeRule keeps the given fields from the server.
func NewMergeRule(fields ...board.Field) MergeRule {
	keep := make(map[board.Field]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	return MergeRule{keep: keep}
}

// ParseMergeRule builds a rule from configured field names.
func ParseMergeRule(names []string) (MergeRule, error) {
	fields := make([]board.Field, 0, len(names))
	for _, name := range names {
		f, err := board.ParseField(name)
		if err != nil {
			return MergeRule{}, fmt.Errorf("invalid merge rule: %w", err)
		}
		fields = append(fields, f)
	}
	return NewMergeRule(fields...), nil
}

// Keeps reports whether the merge keeps the server value of f.
func (r MergeRule) Keeps(f board.Field) bool {
	return r.keep[f]
}

// Fields returns the kept fields, sorted.
func (r MergeRule) Fields() []board.Field {
	out := make([]board.Field, 0, len(r.keep))
	for f := range r.keep {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Proposal is the client's local copy of a task's mutable fields.
// An empty title, priority or status means the client did not send one and the
// server value stays. A nil due date clears it.
type Proposal struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    board.Priority `json:"priority"`
	Status      board.Status   `json:"status"`
	AssignedTo  []string       `json:"assignedTo"`
	DueDate     *time.Time     `json:"dueDate"`
}

// Validate checks the proposed title and enum values.
func (p Proposal) Validate() error {
	if board.IsColumnName(p.Title) {
		return apperr.New(apperr.InvalidArgument, "task title cannot match column names")
	}
	if p.Priority != "" {
		if err := p.Priority.Validate(); err != nil {
			return apperr.Wrap(apperr.InvalidArgument, "invalid proposed priority", err)
		}
	}
	if p.Status != "" {
		if err := p.Status.Validate(); err != nil {
			return apperr.Wrap(apperr.InvalidArgument, "invalid proposed status", err)
		}
	}
	return nil
}

// Apply computes the post-resolution record. It does not touch current and
// depends only on its arguments.
func Apply(current board.Task, policy Policy, p Proposal, rule MergeRule, now time.Time) board.Task {
	result := current
	result.AssignedTo = append([]string{}, current.AssignedTo...)
	if current.DueDate != nil {
		d := *current.DueDate
		result.DueDate = &d
	}
	result.LastModified = now.UTC()

	if policy == Discard {
		return result
	}

	take := func(f board.Field) bool {
		return policy == Overwrite || !rule.Keeps(f)
	}

	if take(board.FieldTitle) && strings.TrimSpace(p.Title) != "" {
		result.Title = strings.TrimSpace(p.Title)
	}
	if take(board.FieldDescription) {
		result.Description = strings.TrimSpace(p.Description)
	}
	if take(board.FieldPriority) && p.Priority != "" {
		result.Priority = p.Priority
	}
	if take(board.FieldStatus) && p.Status != "" {
		result.Status = p.Status
	}
	if take(board.FieldAssignedTo) {
		result.AssignedTo = append([]string{}, p.AssignedTo...)
	}
	if take(board.FieldDueDate) {
		result.DueDate = nil
		if p.DueDate != nil {
			d := p.DueDate.UTC()
			result.DueDate = &d
		}
	}

	return result
}
