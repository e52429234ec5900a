package history

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nash0810/kollab-board/internal/filter"
	"github.com/Nash0810/kollab-board/pkg/board"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func init() {
	color.NoColor = true
}

func setupTestClient(t *testing.T) *board.Client {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-board")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func seed(t *testing.T, client *board.Client) (string, string) {
	t.Helper()
	ctx := context.Background()
	task1, task2 := uuid.NewString(), uuid.NewString()

	entries := []*board.Activity{
		board.NewActivity(board.ActivityTaskCreated, task1, "alice", map[string]any{"title": "Write docs"}, now.Add(-3*time.Hour)),
		board.NewActivity(board.ActivityTaskCreated, task2, "bob", map[string]any{"title": "Fix login"}, now.Add(-2*time.Hour)),
		board.NewActivity(board.ActivityCommentAdded, task1, "bob", nil, now.Add(-time.Hour)),
		board.NewActivity(board.ActivityTaskStatusChanged, task1, "alice", map[string]any{"from": "Todo", "to": "Done"}, now.Add(-10*time.Minute)),
	}
	for _, a := range entries {
		require.NoError(t, client.AppendActivity(ctx, a))
	}
	return task1, task2
}

func decodeLines(t *testing.T, out string) []board.Activity {
	t.Helper()
	var result []board.Activity
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var a board.Activity
		require.NoError(t, json.Unmarshal([]byte(line), &a))
		result = append(result, a)
	}
	return result
}

func TestListActivities(t *testing.T) {
	ctx := context.Background()

	t.Run("empty board - default format", func(t *testing.T) {
		client := setupTestClient(t)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatDefault, filter.Criteria{}, 0, &buf, now)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "No activity found on board 'test-board'")
	})

	t.Run("empty board - jsonl format", func(t *testing.T) {
		client := setupTestClient(t)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, filter.Criteria{}, 0, &buf, now)
		require.NoError(t, err)
		assert.Empty(t, buf.String())
	})

	t.Run("jsonl is newest first", func(t *testing.T) {
		client := setupTestClient(t)
		seed(t, client)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, filter.Criteria{}, 0, &buf, now)
		require.NoError(t, err)

		got := decodeLines(t, buf.String())
		require.Len(t, got, 4)
		assert.Equal(t, board.ActivityTaskStatusChanged, got[0].Type)
		assert.Equal(t, board.ActivityTaskCreated, got[3].Type)
	})

	t.Run("limit without filters", func(t *testing.T) {
		client := setupTestClient(t)
		seed(t, client)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, filter.Criteria{}, 2, &buf, now)
		require.NoError(t, err)
		assert.Len(t, decodeLines(t, buf.String()), 2)
	})

	t.Run("filters then limit", func(t *testing.T) {
		client := setupTestClient(t)
		seed(t, client)

		var buf bytes.Buffer
		criteria := filter.Criteria{UserID: "bob"}
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, criteria, 1, &buf, now)
		require.NoError(t, err)

		got := decodeLines(t, buf.String())
		require.Len(t, got, 1)
		assert.Equal(t, board.ActivityCommentAdded, got[0].Type)
	})

	t.Run("task and time filters", func(t *testing.T) {
		client := setupTestClient(t)
		task1, _ := seed(t, client)

		var buf bytes.Buffer
		criteria := filter.Criteria{TaskID: task1, Since: now.Add(-2 * time.Hour)}
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, criteria, 0, &buf, now)
		require.NoError(t, err)

		got := decodeLines(t, buf.String())
		require.Len(t, got, 2)
		for _, a := range got {
			assert.Equal(t, task1, a.TaskID)
		}
	})

	t.Run("type glob", func(t *testing.T) {
		client := setupTestClient(t)
		seed(t, client)

		var buf bytes.Buffer
		criteria := filter.Criteria{TypeGlob: "Task Created"}
		err := ListActivities(ctx, client, "test-board", OutputFormatJSONL, criteria, 0, &buf, now)
		require.NoError(t, err)
		assert.Len(t, decodeLines(t, buf.String()), 2)
	})

	t.Run("invalid glob", func(t *testing.T) {
		client := setupTestClient(t)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatDefault, filter.Criteria{TypeGlob: "[x"}, 0, &buf, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid type pattern")
	})

	t.Run("default format table", func(t *testing.T) {
		client := setupTestClient(t)
		seed(t, client)

		var buf bytes.Buffer
		err := ListActivities(ctx, client, "test-board", OutputFormatDefault, filter.Criteria{}, 0, &buf, now)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "Activity on board 'test-board':")
		assert.Contains(t, out, "AGE")
		assert.Contains(t, out, "10 minutes ago")
		assert.Contains(t, out, "from=Todo, to=Done")
		assert.Contains(t, out, "4 activities found")
	})
}

func TestFormatTableSingular(t *testing.T) {
	var buf bytes.Buffer
	a := board.NewActivity(board.ActivityTaskDeleted, "0123456789abcdef", "alice", nil, now.Add(-time.Minute))

	n := FormatTable(&buf, []*board.Activity{a}, "b", now)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "01234567 ")
	assert.Contains(t, buf.String(), "1 activity found")
}

func TestFormatDetails(t *testing.T) {
	assert.Equal(t, "-", formatDetails(nil))
	assert.Equal(t, "a=1, b=two", formatDetails(map[string]any{"b": "two", "a": 1}))

	long := formatDetails(map[string]any{"title": strings.Repeat("x", 60)})
	assert.Len(t, long, 40)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}
