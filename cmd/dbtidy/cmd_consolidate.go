package main

import (
	"github.com/spf13/cobra"

	"dbtidy/internal/lock"
	"dbtidy/internal/report"
)

func (a *app) newConsolidateCmd() *cobra.Command {
	var (
		pf     planFlags
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "consolidate <table>",
		Short: "Write one JSON document per plan group from the legacy columns",
		Args:  exactArgs(1),
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

			lk, err := lock.Acquire(a.cfg.StateDir, table)
			if err != nil {
				return err
			}
			defer lk.Release()

			if !dryRun {
				if err := e.Provision(cmd.Context(), table, plan.Setup, groups); err != nil {
					return err
				}
			}
			ledgers, runErr := e.Consolidator(table, plan, dryRun).RunAll(cmd.Context(), groups, a.cfg.Workers)

			p := report.New(cmd.OutOrStdout())
			p.Ledgers(ledgers)
			s := report.LedgerSummary(ledgers)
			p.Summary(s)
			if runErr != nil {
				return runErr
			}
			if s.Failed > 0 {
				return silentExit(exitPartial)
			}
			return nil
		},
	}
	pf.bind(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute documents and counts without writing")
	return cmd
}
