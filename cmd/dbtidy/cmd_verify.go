package main

import (
	"github.com/spf13/cobra"

	"dbtidy/internal/report"
)

// verifyFlags configure the verification gate.
type verifyFlags struct {
	sample int
	strict bool
}

func (f *verifyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.sample, "sample-check", 0, "legacy rows per group compared field by field")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail verification on sampled mismatches")
}

func (a *app) newVerifyCmd() *cobra.Command {
	var (
		pf planFlags
		vf verifyFlags
	)
	cmd := &cobra.Command{
		Use:   "verify <table>",
		Short: "Compare legacy and nested population counts per group",
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

			rep, err := e.Verifier(table, plan, vf.sample, vf.strict).Verify(cmd.Context(), groups)
			if err != nil {
				return err
			}
			report.New(cmd.OutOrStdout()).Verification(rep)
			if !rep.Passed() {
				return silentExit(exitBlocked)
			}
			return nil
		},
	}
	pf.bind(cmd)
	vf.bind(cmd)
	return cmd
}
