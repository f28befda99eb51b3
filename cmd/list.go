package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/fleet"
)

var (
	listProviders []string
	listInclude   []string
	listExclude   []string
	listFormat    string
)

func newListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "list",
		Short: "List every agent across the configured fleet",
		RunE:  runList,
	}
	c.Flags().StringArrayVar(&listProviders, "provider", nil, "limit to these provider instances (repeatable)")
	c.Flags().StringArrayVar(&listInclude, "include", nil, "filter expression every listed agent must match (repeatable)")
	c.Flags().StringArrayVar(&listExclude, "exclude", nil, "filter expression that excludes a match (repeatable)")
	c.Flags().StringVar(&listFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newListCmd())
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.pipeline.ListAgents(cmd.Context(), a.group, fleet.ListOptions{
		Include:       listInclude,
		Exclude:       listExclude,
		ErrorBehavior: domain.ErrorBehaviorContinue,
	})
	if err != nil {
		return err
	}

	wantProvider := make(map[string]bool, len(listProviders))
	for _, p := range listProviders {
		wantProvider[p] = true
	}

	now := time.Now()
	out := cli.ListResult{}
	for _, h := range result.Hosts {
		if len(wantProvider) > 0 && !wantProvider[string(h.Host.Provider)] {
			continue
		}
		for _, agent := range h.Agents {
			out.Agents = append(out.Agents, cli.AgentRow{
				Id:       agent.Id,
				Name:     agent.Name,
				Type:     agent.Type,
				State:    agent.State,
				HostId:   h.Host.Id,
				HostName: h.Host.Name,
				Provider: string(h.Host.Provider),
				Age:      now.Sub(agent.CreateTime),
				AgeSecs:  now.Sub(agent.CreateTime).Seconds(),
				IdleSecs: agent.IdleSeconds,
			})
		}
	}
	for _, e := range result.Errors {
		if len(wantProvider) > 0 && !wantProvider[e.Provider] {
			continue
		}
		out.Errors = append(out.Errors, cli.ProviderFailure{Provider: e.Provider, Message: e.Reason.Error()})
	}

	return cli.RenderList(os.Stdout, out, domain.OutputFormat(listFormat))
}
