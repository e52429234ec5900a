package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Nash0810/kollab-board/internal/api"
	"github.com/Nash0810/kollab-board/internal/printer"
)

var (
	locksServerURL string
	locksTimeout   time.Duration
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List the edit locks held on a running server",
	Long: `List every edit lock currently held, oldest first, with its holder and age.

Locks live in the memory of the serving process, so this queries its API.

Examples:
  kollab locks
  kollab locks --server http://board.internal:8080`,
	RunE: runLocks,
}

func init() {
	locksCmd.Flags().StringVarP(&locksServerURL, "server", "s", "http://localhost:8080", "Base URL of a running kollab server")
	locksCmd.Flags().DurationVar(&locksTimeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), locksTimeout)
	defer cancel()

	locks, err := fetchLocks(ctx, http.DefaultClient, locksServerURL)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to fetch locks",
			err.Error(),
			map[string]string{"server": locksServerURL},
			[]string{"Check the server is running:\n  kollab serve"},
		)
	}

	if len(locks) == 0 {
		printer.Info("No edit locks held.\n")
		return nil
	}

	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr()).Table(
		[]string{"TASK", "HOLDER", "ACQUIRED", "AGE"},
		lockRows(locks, time.Now()),
	)
}

// fetchLocks calls GET /api/locks on the server at base.
func fetchLocks(ctx context.Context, client *http.Client, base string) ([]api.LockView, error) {
	endpoint, err := url.JoinPath(strings.TrimRight(base, "/"), "/api/locks")
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var locks []api.LockView
	if err := json.NewDecoder(resp.Body).Decode(&locks); err != nil {
		return nil, fmt.Errorf("failed to decode locks: %w", err)
	}
	return locks, nil
}

// lockRows renders locks with humanized ages relative to now.
func lockRows(locks []api.LockView, now time.Time) [][]string {
	rows := make([][]string, 0, len(locks))
	for _, l := range locks {
		rows = append(rows, []string{
			l.TaskID,
			l.HolderID,
			l.AcquiredAt.Local().Format(time.DateTime),
			strings.TrimSpace(humanize.RelTime(l.AcquiredAt, now, "ago", "from now")),
		})
	}
	return rows
}
