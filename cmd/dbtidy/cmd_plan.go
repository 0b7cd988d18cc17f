package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dbtidy/internal/config"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/report"
)

// planFlags are shared by the plan-driven commands.
type planFlags struct {
	path   string
	groups []string
}

func (f *planFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "plan", "", "consolidation plan file (.json, .yaml or .toml)")
	cmd.Flags().StringSliceVar(&f.groups, "group", nil, "restrict to these plan groups (repeatable)")
}

// load reads and validates the plan for table and selects the groups.
// Warnings are logged; errors are usage errors.
func (a *app) loadPlan(f planFlags, table string) (config.Plan, []consolidate.Group, error) {
	if f.path == "" {
		return config.Plan{}, nil, usageError(errors.New("--plan is required"))
	}
	p, err := config.LoadPlan(f.path)
	if err != nil {
		return config.Plan{}, nil, usageError(err)
	}
	issues := config.ValidatePlan(p, p.Registry())
	var errs []error
	for _, is := range issues {
		if is.Severity == config.SeverityError {
			errs = append(errs, is)
			continue
		}
		a.logger.Warn("plan", "path", is.Path, "msg", is.Message)
	}
	if len(errs) > 0 {
		return config.Plan{}, nil, usageError(fmt.Errorf("invalid plan %s: %w", f.path, errors.Join(errs...)))
	}
	if p.Table != "" && p.Table != table {
		return config.Plan{}, nil, usageError(fmt.Errorf("plan %s is for table %s, not %s", f.path, p.Table, table))
	}
	groups, err := p.Select(f.groups)
	if err != nil {
		return config.Plan{}, nil, usageError(err)
	}
	return p, groups, nil
}

func (a *app) newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Work with consolidation plans",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a plan file without connecting to the database",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.LoadPlan(args[0])
			if err != nil {
				return usageError(err)
			}
			issues := config.ValidatePlan(p, p.Registry())
			report.New(cmd.OutOrStdout()).Issues(issues)
			if config.HasErrors(issues) {
				return silentExit(exitUsage)
			}
			return nil
		},
	})
	return cmd
}
