package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

var (
	destroyAll           bool
	destroyForce         bool
	destroyInclude       []string
	destroyExclude       []string
	destroyStopOnly      bool
	destroyDryRun        bool
	destroyErrorBehavior string
	destroyFormat        string
)

func newDestroyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "destroy [NAME...]",
		Short: "Destroy (or stop) the named agents, or every agent matching --include/--exclude",
		RunE:  runDestroy,
	}
	c.Flags().BoolVar(&destroyAll, "all", false, "select every agent instead of naming them")
	c.Flags().BoolVar(&destroyForce, "force", false, "required alongside --all with no --include, to confirm a fleet-wide destroy")
	c.Flags().StringArrayVar(&destroyInclude, "include", nil, "filter expression every selected agent must match (repeatable)")
	c.Flags().StringArrayVar(&destroyExclude, "exclude", nil, "filter expression that excludes a match (repeatable)")
	c.Flags().BoolVar(&destroyStopOnly, "stop-only", false, "stop agents instead of destroying their durable record")
	c.Flags().BoolVar(&destroyDryRun, "dry-run", false, "report what would be affected without changing anything")
	c.Flags().StringVar(&destroyErrorBehavior, "on-error", "continue", "abort or continue past a per-agent failure")
	c.Flags().StringVar(&destroyFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newDestroyCmd())
}

func runDestroy(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	opts := fleet.CleanupOptions{
		Include:       withNameFilter(destroyInclude, args),
		Exclude:       destroyExclude,
		Action:        domain.CleanupActionDestroy,
		DryRun:        destroyDryRun,
		ErrorBehavior: parseErrorBehavior(destroyErrorBehavior),
	}
	if destroyStopOnly {
		opts.Action = domain.CleanupActionStop
	}
	if !destroyAll && len(args) == 0 {
		return noSelectionError()
	}
	if destroyAll && len(args) == 0 && len(destroyInclude) == 0 && !destroyForce {
		return &errs.UserInputError{
			Message: "refusing to destroy the entire fleet",
			Hint:    "pass --force to confirm, or narrow the selection with --include",
		}
	}

	result, err := a.pipeline.Cleanup(cmd.Context(), a.group, opts)
	if err != nil {
		return err
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(result), domain.OutputFormat(destroyFormat))
}
