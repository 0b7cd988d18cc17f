package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbtidy/internal/dropper"
	"dbtidy/internal/inspect"
	"dbtidy/internal/report"
	"dbtidy/internal/workflow"
)

func (a *app) newMigrateCmd() *cobra.Command {
	var (
		pf          planFlags
		vf          verifyFlags
		dryRun      bool
		confirmDrop bool
	)
	cmd := &cobra.Command{
		Use:   "migrate <table>",
		Short: "Consolidate, back up, verify and (with --confirm-drop) drop legacy columns",
		Long: "migrate runs every stage for one table under a migration lock.\n" +
			"Without --confirm-drop it stops once the drop is verified safe.\n" +
			"An interrupted drop resumes on the next run without a new backup.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := args[0]
			plan, groups, err := a.loadPlan(pf, table)
			if err != nil {
				return err
			}
			e, err := a.env(cmd)
			if err != nil {
				return err
			}
			defer a.closeEnv(e)

			res, runErr := e.Migrate(cmd.Context(), workflow.MigrateOptions{
				Table: table, Plan: plan, Groups: groups,
				DryRun: dryRun, ConfirmDrop: confirmDrop,
				Sample: vf.sample, Strict: vf.strict,
			})
			return printMigrate(cmd, res, runErr)
		},
	}
	pf.bind(cmd)
	vf.bind(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview consolidation only; no DDL, writes, backup or drop")
	cmd.Flags().BoolVar(&confirmDrop, "confirm-drop", false, "drop the legacy columns once verified safe")
	return cmd
}

// printMigrate renders res and picks the exit outcome. A blocked drop is
// printed before anything else.
func printMigrate(cmd *cobra.Command, res workflow.MigrateResult, runErr error) error {
	p := report.New(cmd.OutOrStdout())
	cp := res.Checkpoint
	blocked := cp != nil && cp.State == dropper.Blocked
	if blocked {
		p.Checkpoint(*cp)
	}
	if res.Inspection != nil {
		p.Inspection([]inspect.Outcome{*res.Inspection})
	}
	if res.Resumed {
		fmt.Fprintln(cmd.OutOrStdout(), "Resumed stored run; consolidation and backup skipped.")
	}
	p.Ledgers(res.Ledgers)
	if res.Artifact != nil {
		p.Artifact(*res.Artifact)
	}
	if cp != nil && cp.Verification != nil && !blocked {
		p.Verification(*cp.Verification)
	}
	if cp != nil && !blocked {
		p.Checkpoint(*cp)
	}

	s := report.LedgerSummary(res.Ledgers)
	if cp != nil {
		s.Add(report.CheckpointSummary(*cp))
	}
	p.Summary(s)

	switch {
	case runErr != nil:
		return runErr
	case blocked:
		return silentExit(exitBlocked)
	case s.Failed > 0:
		return silentExit(exitPartial)
	}
	return nil
}
