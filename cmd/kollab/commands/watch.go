package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nash0810/kollab-board/internal/printer"
	"github.com/Nash0810/kollab-board/internal/watch"
)

var (
	watchOutputFormat string
	watchEvents       []string
	watchTaskID       string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live board events",
	Long: `Stream lock, update, activity and comment events as they happen.

Events are read from the board's Redis channel, so watch works alongside any
number of running servers.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything on the configured board
  kollab watch

  # Only lock traffic for one task
  kollab watch --event task-locked --event task-unlocked --task <id>

  # Export events as JSON
  kollab watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringSliceVarP(&watchEvents, "event", "e", nil, "Only show these events (repeatable)")
	watchCmd.Flags().StringVar(&watchTaskID, "task", "", "Only show events about this task ID")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectBoard(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if format == watch.OutputFormatDefault {
		printer.Step("watching board '%s' (Ctrl+C to stop)\n", cfg.Board)
	}

	return watch.StreamEvents(ctx, client, format, watch.Options{
		Events: watchEvents,
		TaskID: watchTaskID,
	}, os.Stdout)
}
