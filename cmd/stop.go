package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/fleet"
)

var (
	stopAll           bool
	stopErrorBehavior string
	stopFormat        string
)

func newStopCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "stop [NAME...]",
		Short: "Stop the named agents, or every running agent with --all",
		RunE:  runStop,
	}
	c.Flags().BoolVar(&stopAll, "all", false, "stop every running agent")
	c.Flags().StringVar(&stopErrorBehavior, "on-error", "continue", "abort or continue past a per-agent failure")
	c.Flags().StringVar(&stopFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newStopCmd())
}

func runStop(cmd *cobra.Command, args []string) error {
	if !stopAll && len(args) == 0 {
		return noSelectionError()
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := resolveAgentIds(cmd, a, args)
	if err != nil {
		return err
	}

	result, err := a.pipeline.StopAgents(cmd.Context(), a.group, fleet.StopAgentsOptions{
		Ids:           ids,
		All:           stopAll,
		ErrorBehavior: parseErrorBehavior(stopErrorBehavior),
	})
	if err != nil {
		return err
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(result), domain.OutputFormat(stopFormat))
}
