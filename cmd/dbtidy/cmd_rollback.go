package main

import (
	"github.com/spf13/cobra"

	"dbtidy/internal/backup"
	"dbtidy/internal/dropper"
	"dbtidy/internal/lock"
	"dbtidy/internal/report"
)

func (a *app) newRollbackCmd() *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "rollback <manifest>",
		Short: "Restore dropped columns and their values from a backup",
		Long: "rollback re-adds any captured column missing from the table and writes\n" +
			"the backed-up values back by key; rows missing from the table are re-inserted.\n" +
			"The stored drop checkpoint is cleared so the next migrate starts fresh.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := backup.Load(args[0])
			if err != nil {
				return usageError(err)
			}
			e, err := a.env(cmd)
			if err != nil {
				return err
			}
			defer a.closeEnv(e)

			lk, err := lock.Acquire(a.cfg.StateDir, art.Table)
			if err != nil {
				return err
			}
			defer lk.Release()

			res, err := backup.Restore(cmd.Context(), e.Admin, art, backup.RestoreOptions{
				Columns: columns, Logger: a.logger,
			})
			if err != nil {
				return err
			}
			p := report.New(cmd.OutOrStdout())
			p.Restore(res)
			p.Summary(report.Summary{
				Attempted: res.Rows,
				Succeeded: res.Updated + res.Inserted,
				Failed:    res.Failed,
			})
			if err := dropper.Reset(a.cfg.StateDir, art.Table); err != nil {
				return err
			}
			if res.Failed > 0 {
				return silentExit(exitPartial)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&columns, "column", nil, "restore only these columns (repeatable)")
	return cmd
}
