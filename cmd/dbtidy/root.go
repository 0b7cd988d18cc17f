package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"dbtidy/internal/config"
	"dbtidy/internal/logging"
	"dbtidy/internal/workflow"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	// openEnv is a test seam; production uses workflow.Open.
	openEnv func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*workflow.Env, error)
}

// newRootCmd creates the root command with all subcommands attached.
// Persistent flags take their defaults from getenv.
func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{openEnv: workflow.Open}

	cmd := &cobra.Command{
		Use:   "dbtidy",
		Short: "Consolidate legacy columns into JSON documents and retire them safely",
		Long: "dbtidy moves scattered legacy columns into one nested JSON column per group,\n" +
			"verifies the result, backs the table up and only then drops the old columns.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.logger = logging.New(cmd.ErrOrStderr(), a.cfg.Verbose)
			return nil
		},
	}
	a.cfg = config.Bind(cmd.PersistentFlags(), getenv)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	cmd.AddCommand(
		a.newInspectCmd(),
		a.newConsolidateCmd(),
		a.newVerifyCmd(),
		a.newBackupCmd(),
		a.newMigrateCmd(),
		a.newRollbackCmd(),
		a.newPlanCmd(),
	)
	return cmd
}

// env validates the runtime config and connects.
func (a *app) env(cmd *cobra.Command) (*workflow.Env, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	e, err := a.openEnv(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return e, nil
}

func (a *app) closeEnv(e *workflow.Env) {
	if err := e.Close(); err != nil {
		a.logger.Warn("close", "err", err)
	}
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}
