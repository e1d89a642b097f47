package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the 'sync' subcommand, which runs one pass.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass",
		Long: `Fetches the Bangumi collection, saves it as the new snapshot and
applies the differences to the Notion database. The database is created on
first use and its schema refreshed on every run.`,
		Args: cobra.NoArgs,
		RunE: runSyncCommand,
	}
}

func runSyncCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	runner, err := appInstance.NewRunner()
	if err != nil {
		return fmt.Errorf("init syncer: %w", err)
	}
	if err := runner.Run(cmd.Context()); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync interrupted: %w", err)
		}
		return fmt.Errorf("sync: %w", err)
	}
	appInstance.GetLogger().Info("sync finished")
	return nil
}
