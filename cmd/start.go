package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/fleet"
)

var (
	startAll           bool
	startConnect       bool
	startErrorBehavior string
	startFormat        string
)

func newStartCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "start [NAME...]",
		Short: "Start the named agents, or every stopped agent with --all",
		RunE:  runStart,
	}
	c.Flags().BoolVar(&startAll, "all", false, "start every stopped agent")
	c.Flags().BoolVar(&startConnect, "connect", false, "send each agent's resume message after starting")
	c.Flags().StringVar(&startErrorBehavior, "on-error", "continue", "abort or continue past a per-agent failure")
	c.Flags().StringVar(&startFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func runStart(cmd *cobra.Command, args []string) error {
	if !startAll && len(args) == 0 {
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

	result, err := a.pipeline.StartAgents(cmd.Context(), a.group, fleet.StartAgentsOptions{
		Ids:           ids,
		All:           startAll,
		Connect:       startConnect,
		ErrorBehavior: parseErrorBehavior(startErrorBehavior),
	})
	if err != nil {
		return err
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(result), domain.OutputFormat(startFormat))
}

// resolveAgentIds looks up the durable ids behind a set of agent names,
// matching every agent whose name appears in names regardless of which host
// or provider it lives on (agent names are unique per host, not fleet-wide).
func resolveAgentIds(cmd *cobra.Command, a *app, names []string) ([]domain.AgentId, error) {
	if len(names) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	listed, err := a.pipeline.ListAgents(cmd.Context(), a.group, fleet.ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return nil, err
	}
	var ids []domain.AgentId
	for _, h := range listed.Hosts {
		for _, ag := range h.Agents {
			if want[string(ag.Name)] {
				ids = append(ids, ag.Id)
			}
		}
	}
	return ids, nil
}
