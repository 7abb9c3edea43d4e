package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BartekS5/essync/internal/etl"
)

type MigrateOptions struct {
	Conditions     []string
	RemoveExisting bool
	PageSize       int
	FailOnItems    bool
}

// settings overlays the flags the user set on the environment settings.
func (o *MigrateOptions) settings(cmd *cobra.Command, base etl.Settings) etl.Settings {
	if cmd.Flags().Changed("remove-existing") {
		base.RemoveExistingIndex = o.RemoveExisting
	}
	if cmd.Flags().Changed("page-size") {
		base.PageSize = o.PageSize
	}
	if cmd.Flags().Changed("fail-on-item-errors") {
		base.FailOnItemErrors = o.FailOnItems
	}
	return base
}

func NewMigrateCmd() *cobra.Command {
	opts := &MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate [models...]",
		Short: "Re-populate search indexes from the database",
		Long: `Migrate the given models, or every enabled and migratable model, one
after the other. The run continues in the background; the command waits
for it and prints the run report.`,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				return runMigrateModels(c, a, opts, args)
			})
		},
	}

	cmd.PersistentFlags().StringArrayVarP(&opts.Conditions, "condition", "c", nil, "Extra filter condition key=value, overrides the model's (repeatable)")
	cmd.PersistentFlags().IntVarP(&opts.PageSize, "page-size", "p", etl.DefaultPageSize, "Rows per page")
	cmd.PersistentFlags().BoolVar(&opts.FailOnItems, "fail-on-item-errors", false, "Abort a model when any bulk item fails")
	cmd.Flags().BoolVar(&opts.RemoveExisting, "remove-existing", false, "Delete the index of every enabled model before migrating")

	model := &cobra.Command{
		Use:   "model <model>",
		Short: "Migrate a single model and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				return runMigrateModel(c, a, opts, args[0])
			})
		},
	}

	cmd.AddCommand(model)
	return cmd
}

func runMigrateModels(cmd *cobra.Command, a *app, opts *MigrateOptions, selection []string) error {
	overrides, err := parseConditions(opts.Conditions)
	if err != nil {
		return err
	}
	m, err := a.migrator(opts.settings(cmd, a.cfg.Settings()))
	if err != nil {
		return err
	}

	task := m.Start(cmd.Context(), selection, overrides)
	fmt.Fprintf(cmd.OutOrStdout(), "Migration started, task %s. It can take a few minutes.\n", task.ID)

	run, err := task.Wait(cmd.Context())
	if run != nil {
		printRun(cmd, run)
	}
	return err
}

func runMigrateModel(cmd *cobra.Command, a *app, opts *MigrateOptions, name string) error {
	overrides, err := parseConditions(opts.Conditions)
	if err != nil {
		return err
	}
	d, err := a.registry.Resolve(name)
	if err != nil {
		return err
	}
	m, err := a.migrator(opts.settings(cmd, a.cfg.Settings()))
	if err != nil {
		return err
	}
	report, err := m.MigrateModel(cmd.Context(), d.Key(), overrides)
	printModel(cmd, report)
	return err
}

func printRun(cmd *cobra.Command, run *etl.RunReport) {
	for _, r := range run.Models {
		printModel(cmd, r)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s: %d model(s), %d failed, %d document(s)\n",
		run.TaskID, len(run.Models), len(run.Failed()), run.Documents())
}

func printModel(cmd *cobra.Command, r *etl.ModelReport) {
	if r == nil {
		return
	}
	line := fmt.Sprintf("%-30s %-10s pages=%d documents=%d failed=%d dropped=%d",
		r.Model, r.State, r.Pages, r.Documents, r.FailedItems, r.DroppedFields)
	if r.Skipped {
		line += " (skipped)"
	}
	if r.Err != nil {
		line += " error: " + r.Err.Error()
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
