package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect NAME",
		Short: "Attach an interactive terminal to an agent's multiplexer session",
		Args:  cobra.ExactArgs(1),
		RunE:  runConnect,
	}
}

func init() {
	rootCmd.AddCommand(newConnectCmd())
}

func runConnect(cmd *cobra.Command, args []string) error {
	if os.Getenv("TMUX") != "" {
		return &errs.NestedTmuxError{}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	listed, err := a.pipeline.ListAgents(cmd.Context(), a.group, fleet.ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return err
	}

	var target *fleet.AggregatedHost
	var session string
	for i := range listed.Hosts {
		h := &listed.Hosts[i]
		for _, ag := range h.Agents {
			if string(ag.Name) == name {
				target = h
				session = a.root.SessionName(ag.Name)
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target == nil {
		return &errs.UserInputError{Message: fmt.Sprintf("no agent named %q found", name), Hint: "run `mngr list` to see running agents"}
	}
	if target.Host.State != domain.HostRunning {
		return &errs.HostOfflineError{HostName: string(target.Host.Name)}
	}

	cmdArgs, err := attachCommand(target, session)
	if err != nil {
		return err
	}

	c := exec.CommandContext(cmd.Context(), cmdArgs[0], cmdArgs[1:]...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := c.Run(); err != nil {
		return err
	}

	return handleDisconnectSignal(cmd, a, target, session, name)
}

// attachCommand builds the argv that hands the caller's real terminal to the
// agent's tmux session. Unlike every other operation in this package, this
// bypasses the Connector abstraction: Connector.RunShell only returns
// buffered output, but attaching needs the raw three standard streams wired
// straight through, so it shells out to the same CLI a human would use.
func attachCommand(h *fleet.AggregatedHost, session string) ([]string, error) {
	rec := h.Host.Host.Record()
	switch h.Backend.BackendName() {
	case "local":
		return []string{"tmux", "attach-session", "-t", session}, nil
	case "ssh":
		if rec.SSHHost == nil {
			return nil, &errs.HostOfflineError{HostName: string(h.Host.Name)}
		}
		port := 22
		if rec.SSHPort != nil {
			port = *rec.SSHPort
		}
		return []string{"ssh", "-t", "-p", strconv.Itoa(port), *rec.SSHHost, "tmux", "attach-session", "-t", session}, nil
	case "container":
		if rec.ContainerId == nil {
			return nil, &errs.HostOfflineError{HostName: string(h.Host.Name)}
		}
		return []string{"docker", "exec", "-it", *rec.ContainerId, "tmux", "attach-session", "-t", session}, nil
	case "serverless":
		if rec.ContainerId == nil {
			return nil, &errs.HostOfflineError{HostName: string(h.Host.Name)}
		}
		return []string{"ctr", "task", "exec", "-t", "--exec-id", "connect", *rec.ContainerId, "tmux", "attach-session", "-t", session}, nil
	default:
		return nil, fmt.Errorf("connect is not implemented for backend %q", h.Backend.BackendName())
	}
}

// handleDisconnectSignal reads the one-word signal the tmux key binding
// wrote on detach (§6 wire protocol 3) and, when present, performs the
// requested post-action before exiting with the reserved 10/11 code so a
// wrapping shell script can tell the two apart from a plain detach (exit 0).
func handleDisconnectSignal(cmd *cobra.Command, a *app, h *fleet.AggregatedHost, session, agentName string) error {
	signal, err := a.hostStore.ReadAndClearSignal(h.Host.Id, session)
	if err != nil || signal == "" {
		return nil
	}

	ids, err := resolveAgentIds(cmd, a, []string{agentName})
	if err != nil || len(ids) == 0 {
		return nil
	}

	switch signal {
	case "destroy":
		_, _ = a.pipeline.Cleanup(cmd.Context(), a.group, fleet.CleanupOptions{
			Include:       withNameFilter(nil, []string{agentName}),
			Action:        domain.CleanupActionDestroy,
			ErrorBehavior: domain.ErrorBehaviorContinue,
		})
		os.Exit(cli.ExitDisconnectDestroy)
	case "stop":
		_, _ = a.pipeline.StopAgents(cmd.Context(), a.group, fleet.StopAgentsOptions{
			Ids:           ids,
			ErrorBehavior: domain.ErrorBehaviorContinue,
		})
		os.Exit(cli.ExitDisconnectStop)
	}
	return nil
}
