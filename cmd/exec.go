package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/fleet"
)

var (
	execAll           bool
	execUser          string
	execCwd           string
	execTimeout       time.Duration
	execStartDesired  bool
	execErrorBehavior string
	execFormat        string
)

func newExecCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "exec NAME... -- CMD",
		Short: "Run a shell command on the named agents' hosts, in each agent's work dir",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	c.Flags().BoolVar(&execAll, "all", false, "run against every agent")
	c.Flags().StringVar(&execUser, "user", "", "run as this user instead of the host's default")
	c.Flags().StringVar(&execCwd, "cwd", "", "override the agent's work dir as the command's cwd")
	c.Flags().DurationVar(&execTimeout, "timeout", 0, "kill the command after this long")
	c.Flags().BoolVar(&execStartDesired, "start-host", false, "start a stopped host first instead of failing")
	c.Flags().StringVar(&execErrorBehavior, "on-error", "continue", "abort or continue past a per-agent failure")
	c.Flags().StringVar(&execFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newExecCmd())
}

func runExec(cmd *cobra.Command, args []string) error {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 || dash == len(args) {
		return noSelectionError()
	}
	names := args[:dash]
	command := joinShellWords(args[dash:])
	if len(names) == 0 && !execAll {
		return noSelectionError()
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := resolveAgentIds(cmd, a, names)
	if err != nil {
		return err
	}

	results, opResult, err := a.pipeline.ExecCommandOnAgents(cmd.Context(), a.group, fleet.ExecOptions{
		Ids:            ids,
		All:            execAll,
		Command:        command,
		User:           execUser,
		Cwd:            execCwd,
		Timeout:        execTimeout,
		IsStartDesired: execStartDesired,
		ErrorBehavior:  parseErrorBehavior(execErrorBehavior),
	})
	if err != nil {
		return err
	}

	if domain.OutputFormat(execFormat) == domain.OutputFormatHuman {
		for _, r := range results {
			fmt.Fprintf(os.Stdout, "=== %s ===\n%s\n", r.Name, r.Result.Stdout)
		}
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(opResult), domain.OutputFormat(execFormat))
}

func joinShellWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
