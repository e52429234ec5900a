package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nash0810/kollab-board/internal/filter"
	"github.com/Nash0810/kollab-board/internal/history"
	"github.com/Nash0810/kollab-board/internal/printer"
	"github.com/Nash0810/kollab-board/internal/timespec"
)

var (
	activityOutputFormat string
	activitySince        string
	activityUntil        string
	activityType         string
	activityUser         string
	activityTask         string
	activityLimit        int
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Inspect the board's activity log with filtering",
	Long: `List activity log entries, newest first.

Output Formats:
  default - Human-readable table with age, type, task, user and details
  jsonl   - Line-delimited JSON, one activity per line

Time Filters:
  --since  - Show activity after this time
  --until  - Show activity before this time

Content Filters:
  --type   - Filter by activity type (glob pattern: "Task*", "*Changed")
  --user   - Filter by acting user ID (exact match)
  --task   - Filter by task ID (exact match)

Examples:
  # The last 20 entries
  kollab activity

  # Everything alice did in the last two hours
  kollab activity --user=alice --since=2h --limit=0

  # Status changes as JSONL for jq
  kollab activity --type="*Status Changed" --output=jsonl | jq .taskId`,
	RunE: runActivity,
}

func init() {
	activityCmd.Flags().StringVarP(&activityOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	activityCmd.Flags().StringVar(&activitySince, "since", "", "Show activity after time (duration or RFC3339)")
	activityCmd.Flags().StringVar(&activityUntil, "until", "", "Show activity before time (duration or RFC3339)")
	activityCmd.Flags().StringVar(&activityType, "type", "", "Filter by activity type (glob pattern)")
	activityCmd.Flags().StringVar(&activityUser, "user", "", "Filter by user ID (exact match)")
	activityCmd.Flags().StringVar(&activityTask, "task", "", "Filter by task ID (exact match)")
	activityCmd.Flags().IntVar(&activityLimit, "limit", 20, "Maximum entries to show (0 for all)")
	rootCmd.AddCommand(activityCmd)
}

func runActivity(cmd *cobra.Command, args []string) error {
	format, err := history.ParseOutputFormat(activityOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	if activityLimit < 0 {
		return printer.Error(
			"invalid limit",
			"--limit cannot be negative.",
			[]string{"Use --limit=0 to list every entry"},
		)
	}

	now := time.Now()
	since, until, err := timespec.ParseRange(activitySince, activityUntil, now)
	if err != nil {
		return printer.Error(
			"invalid time range",
			err.Error(),
			[]string{
				"Use a duration like --since=2h",
				"Or an RFC3339 timestamp like --since=2026-10-01T13:00:00Z",
			},
		)
	}

	criteria := filter.Criteria{
		Since:    since,
		Until:    until,
		TypeGlob: activityType,
		UserID:   activityUser,
		TaskID:   activityTask,
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := connectBoard(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return history.ListActivities(cmd.Context(), client, cfg.Board, format, criteria, activityLimit, os.Stdout, now)
}
