package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dbtidy/internal/backup"
	"dbtidy/internal/report"
)

func (a *app) newBackupCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "backup <table>",
		Short: "Capture a checksummed, write-once snapshot of a table",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}
			defer a.closeEnv(e)

			art, err := e.Sink(args[0]).Capture(cmd.Context(), e.Admin, args[0], key)
			if err != nil {
				return err
			}
			report.New(cmd.OutOrStdout()).Artifact(art)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "id", "key column")

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <manifest>",
		Short: "Re-check a backup's data file against its manifest",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := backup.Load(args[0])
			if err != nil {
				return usageError(err)
			}
			if err := backup.VerifyArtifact(art); err != nil {
				if errors.Is(err, backup.ErrChecksumMismatch) {
					return blockedError(err)
				}
				return err
			}
			p := report.New(cmd.OutOrStdout())
			p.Artifact(art)
			fmt.Fprintln(cmd.OutOrStdout(), "  verified  ok")
			return nil
		},
	})
	return cmd
}
