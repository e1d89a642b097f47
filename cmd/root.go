// Package cmd defines and implements the CLI commands for the bgm-notion-sync executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/app"
	"github.com/JakeFAU/bgm-notion-sync/internal/logging"
	"github.com/JakeFAU/bgm-notion-sync/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Runner performs one synchronization pass.
type Runner interface {
	Run(ctx context.Context) error
}

// App defines the application interface that commands use.
// This allows tests to inject a fake app.
type App interface {
	Close()
	GetLogger() *zap.Logger
	NewRunner() (Runner, error)
	GetRunRepository() (store.RunRepository, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	a, err := app.Load(ctx, cfgFile)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

// newRootCmd creates and configures the root command. The returned func
// closes the application services; cobra skips post-run hooks when a command
// fails, so the caller closes them instead.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance App
	)
	cmd := &cobra.Command{
		Use:   "bgm-notion-sync",
		Short: "Synchronize a Bangumi collection into a Notion database.",
		Long: `bgm-notion-sync mirrors a bgm.tv collection into a Notion database.
Each run fetches the whole collection, compares it against the snapshot
cached by the previous run and applies only the differences: new rows,
status changes, and rows marked deleted.`,
		SilenceUsage: true,

		// Build and inject the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = instance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newRunsCmd())

	closeApp := func() {
		if appInstance != nil {
			appInstance.Close()
			appInstance = nil
		}
	}
	return cmd, closeApp
}

// Execute is the main entry point. It returns the process exit code.
func Execute(ctx context.Context) int {
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	if err != nil {
		logger := logging.Fallback()
		logger.Error("command execution failed", zap.Error(err))
		_ = logger.Sync()
		return 1
	}
	return 0
}

// appAdapter narrows *app.App to the App interface.
type appAdapter struct {
	*app.App
}

func (a appAdapter) NewRunner() (Runner, error) {
	s, err := a.NewSyncer()
	if err != nil {
		return nil, err
	}
	return runnerFunc(func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}), nil
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
