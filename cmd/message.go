package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/fleet"
)

var (
	messageAll           bool
	messageErrorBehavior string
	messageFormat        string
)

func newMessageCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "message NAME... -- TEXT",
		Short: "Send a line of text to the named agents' multiplexer windows",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMessage,
	}
	c.Flags().BoolVar(&messageAll, "all", false, "send to every running agent")
	c.Flags().StringVar(&messageErrorBehavior, "on-error", "continue", "abort or continue past a per-agent failure")
	c.Flags().StringVar(&messageFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newMessageCmd())
}

func runMessage(cmd *cobra.Command, args []string) error {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 || dash == len(args) {
		return noSelectionError()
	}
	names := args[:dash]
	text := joinShellWords(args[dash:])
	if len(names) == 0 && !messageAll {
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

	result, err := a.pipeline.SendMessageToAgents(cmd.Context(), a.group, fleet.SendMessageOptions{
		Ids:           ids,
		All:           messageAll,
		Content:       text,
		ErrorBehavior: parseErrorBehavior(messageErrorBehavior),
	})
	if err != nil {
		return err
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(result), domain.OutputFormat(messageFormat))
}
