package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Nash0810/kollab-board/internal/printer"
	"github.com/Nash0810/kollab-board/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter kollab.yml",
	Long: `Write a commented kollab.yml with every setting at its default value
into the current directory.

--board and --redis-url are written into the file when given.

Use --force to overwrite an existing kollab.yml.`,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing kollab.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	boardName, _ := cmd.Flags().GetString("board")
	redisURL, _ := cmd.Flags().GetString("redis-url")

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	path, err := scaffold.Initialize(dir, scaffold.Options{
		Board:    boardName,
		RedisURL: redisURL,
		Force:    forceInit,
	})
	if err != nil {
		return printer.Error(
			"initialization failed",
			err.Error(),
			[]string{"Pass --force to overwrite an existing kollab.yml"},
		)
	}

	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	p.Success("Wrote %s\n", path)
	p.Info("\nNext steps:\n")
	p.Info("  1. Point redis.url at your Redis server\n")
	p.Info("  2. Run 'kollab serve' to start the board\n")
	return nil
}
