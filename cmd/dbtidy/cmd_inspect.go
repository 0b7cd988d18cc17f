package main

import (
	"github.com/spf13/cobra"

	"dbtidy/internal/inspect"
	"dbtidy/internal/report"
)

func (a *app) newInspectCmd() *cobra.Command {
	var (
		sample int
		key    string
	)
	cmd := &cobra.Command{
		Use:   "inspect <table>...",
		Short: "Report columns, inferred types and population counts",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}
			defer a.closeEnv(e)

			outcomes, err := e.Inspector(key, sample).InspectAll(cmd.Context(), args)
			if err != nil {
				return err
			}
			p := report.New(cmd.OutOrStdout())
			p.Inspection(outcomes)

			var s report.Summary
			for _, o := range outcomes {
				s.Attempted++
				if o.Inaccessible {
					s.Failed++
				} else {
					s.Succeeded++
				}
			}
			p.Summary(s)
			if s.Failed > 0 {
				return silentExit(exitPartial)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", inspect.DefaultSample, "rows sampled per table for type inference")
	cmd.Flags().StringVar(&key, "key", "id", "key column used to order the sample")
	return cmd
}
