package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nash0810/kollab-board/internal/config"
	"github.com/Nash0810/kollab-board/internal/printer"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kollab",
	Short: "kollab - collaborative task board server",
	Long: `kollab serves a real-time collaborative task board.

Tasks, comments and the activity log live in Redis. Connected clients take
advisory edit locks over a WebSocket and receive every change as it happens;
conflicting edits are settled with merge, overwrite or discard.

Configuration is read from kollab.yml and can be overridden with flags or
KOLLAB_* environment variables (e.g. KOLLAB_REDIS_URL, KOLLAB_LOCKS_GRACE_PERIOD).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// flagKeys maps every config-backed flag to its config key.
var flagKeys = map[string]string{
	"board":          config.KeyBoard,
	"redis-url":      config.KeyRedisURL,
	"log-level":      config.KeyLogLevel,
	"log-format":     config.KeyLogFormat,
	"addr":           config.KeyServerAddr,
	"grace-period":   config.KeyGracePeriod,
	"stale-after":    config.KeyStaleAfter,
	"sweep-interval": config.KeySweepInterval,
	"enforce-locks":  config.KeyEnforceLocks,
	"merge-keep":     config.KeyKeepServer,
	"send-buffer":    config.KeySendBuffer,
	"ping-interval":  config.KeyPingInterval,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(context.Background())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// loadConfig reads kollab.yml and applies the command's flags and KOLLAB_* overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return nil, err
	}

	cfg, err := config.LoadWithOverrides(configPath, v)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"config": describePath(configPath)},
			[]string{"Fix kollab.yml or the KOLLAB_* environment variables and try again."},
		)
	}
	return cfg, nil
}

func describePath(path string) string {
	if path == "" {
		return config.DefaultPath + " (if present)"
	}
	return path
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to kollab.yml (default ./kollab.yml if present)")
	pf.String("board", "", "Board name (namespaces Redis keys)")
	pf.String("redis-url", "", "Redis URL, e.g. redis://localhost:6379/0")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text or json)")
}
