package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/pkg/board"
)

var resolvedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func serverTask() board.Task {
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	return board.Task{
		ID:           "11111111-1111-1111-1111-111111111111",
		Title:        "Ship v1",
		Description:  "server description",
		Priority:     board.PriorityLow,
		Status:       board.StatusDone,
		AssignedTo:   []string{"u3"},
		CreatedBy:    "u1",
		DueDate:      &due,
		CreatedAt:    resolvedAt.Add(-time.Hour),
		LastModified: resolvedAt.Add(-time.Minute),
	}
}

// localEdit is U1's copy: title changed, status and assignees as U1 last saw them.
func localEdit() Proposal {
	return Proposal{
		Title:       "Ship v2",
		Description: "local description",
		Priority:    board.PriorityHigh,
		Status:      board.StatusTodo,
		AssignedTo:  []string{"u1"},
	}
}

func TestParsePolicy(t *testing.T) {
	for _, in := range []string{"merge", "overwrite", "discard", " Merge "} {
		_, err := ParsePolicy(in)
		assert.NoError(t, err, in)
	}

	_, err := ParsePolicy("rename")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestApplyMerge(t *testing.T) {
	current := serverTask()
	result := Apply(current, Merge, localEdit(), DefaultMergeRule(), resolvedAt)

	assert.Equal(t, "Ship v2", result.Title)
	assert.Equal(t, "local description", result.Description)
	assert.Equal(t, board.PriorityHigh, result.Priority)
	assert.Nil(t, result.DueDate, "proposal cleared the due date")
	assert.Equal(t, board.StatusDone, result.Status, "status kept from server")
	assert.Equal(t, []string{"u3"}, result.AssignedTo, "assignees kept from server")
	assert.Equal(t, resolvedAt, result.LastModified)
	assert.Equal(t, current.CreatedBy, result.CreatedBy)
}

func TestApplyOverwrite(t *testing.T) {
	result := Apply(serverTask(), Overwrite, localEdit(), DefaultMergeRule(), resolvedAt)

	assert.Equal(t, "Ship v2", result.Title)
	assert.Equal(t, board.StatusTodo, result.Status)
	assert.Equal(t, []string{"u1"}, result.AssignedTo)
	assert.Nil(t, result.DueDate)
}

func TestApplyDiscard(t *testing.T) {
	current := serverTask()
	result := Apply(current, Discard, localEdit(), DefaultMergeRule(), resolvedAt)

	assert.Equal(t, current.Title, result.Title)
	assert.Equal(t, current.Status, result.Status)
	assert.Equal(t, current.AssignedTo, result.AssignedTo)
	require.NotNil(t, result.DueDate)
	assert.True(t, current.DueDate.Equal(*result.DueDate))
	assert.Equal(t, resolvedAt, result.LastModified)
}

func TestApplyEmptyProposalFieldsKeepServer(t *testing.T) {
	result := Apply(serverTask(), Overwrite, Proposal{Description: "only this"}, DefaultMergeRule(), resolvedAt)

	assert.Equal(t, "Ship v1", result.Title)
	assert.Equal(t, board.PriorityLow, result.Priority)
	assert.Equal(t, board.StatusDone, result.Status)
	assert.Equal(t, "only this", result.Description)
}

func TestApplyDoesNotAliasInputs(t *testing.T) {
	current := serverTask()
	proposal := localEdit()

	result := Apply(current, Overwrite, proposal, DefaultMergeRule(), resolvedAt)
	result.AssignedTo[0] = "mallory"
	assert.Equal(t, "u1", proposal.AssignedTo[0])

	kept := Apply(current, Discard, proposal, DefaultMergeRule(), resolvedAt)
	kept.AssignedTo[0] = "mallory"
	*kept.DueDate = kept.DueDate.Add(time.Hour)
	assert.Equal(t, "u3", current.AssignedTo[0])
	assert.Equal(t, 0, current.DueDate.Hour())
}

func TestApplyIsDeterministic(t *testing.T) {
	for _, policy := range []Policy{Merge, Overwrite, Discard} {
		a := Apply(serverTask(), policy, localEdit(), DefaultMergeRule(), resolvedAt)
		b := Apply(serverTask(), policy, localEdit(), DefaultMergeRule(), resolvedAt)
		assert.Equal(t, a, b, policy)
	}
}

func TestMergeRule(t *testing.T) {
	rule, err := ParseMergeRule([]string{"title", "due_date"})
	require.NoError(t, err)
	assert.Equal(t, []board.Field{board.FieldDueDate, board.FieldTitle}, rule.Fields())

	result := Apply(serverTask(), Merge, localEdit(), rule, resolvedAt)
	assert.Equal(t, "Ship v1", result.Title)
	assert.NotNil(t, result.DueDate)
	assert.Equal(t, board.StatusTodo, result.Status)

	_, err = ParseMergeRule([]string{"owner"})
	assert.Error(t, err)

	assert.True(t, DefaultMergeRule().Keeps(board.FieldStatus))
	assert.False(t, DefaultMergeRule().Keeps(board.FieldTitle))
}

func TestProposalValidate(t *testing.T) {
	assert.NoError(t, Proposal{}.Validate())
	assert.True(t, apperr.Is(Proposal{Priority: "Urgent"}.Validate(), apperr.InvalidArgument))
	assert.True(t, apperr.Is(Proposal{Status: "Blocked"}.Validate(), apperr.InvalidArgument))
	assert.True(t, apperr.Is(Proposal{Title: " done "}.Validate(), apperr.InvalidArgument))
	assert.NoError(t, Proposal{Title: "Done soon"}.Validate())
}
