package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

var (
	cleanupProviders     []string
	cleanupDryRun        bool
	cleanupYes           bool
	cleanupAction        string
	cleanupErrorBehavior string
	cleanupFormat        string
)

func newCleanupCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "List, then destroy or stop, every agent across the fleet (or the named providers)",
		RunE:  runCleanup,
	}
	c.Flags().StringArrayVar(&cleanupProviders, "provider", nil, "limit to these provider instances (repeatable)")
	c.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be affected without changing anything")
	c.Flags().BoolVar(&cleanupYes, "yes", false, "skip the interactive confirmation")
	c.Flags().StringVar(&cleanupAction, "action", "destroy", "destroy or stop")
	c.Flags().StringVar(&cleanupErrorBehavior, "on-error", "continue", "abort or continue past a per-host failure")
	c.Flags().StringVar(&cleanupFormat, "format", "human", "output format: human, json, jsonl")
	return c
}

func init() {
	rootCmd.AddCommand(newCleanupCmd())
}

func runCleanup(cmd *cobra.Command, args []string) error {
	action, err := parseCleanupAction(cleanupAction)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	include := providerFilter(cleanupProviders)

	if !cleanupDryRun && !cleanupYes {
		listed, err := a.pipeline.ListAgents(cmd.Context(), a.group, fleet.ListOptions{Include: include, ErrorBehavior: domain.ErrorBehaviorContinue})
		if err != nil {
			return err
		}
		n := 0
		for _, h := range listed.Hosts {
			n += len(h.Agents)
		}
		if n == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}
		if !confirm(fmt.Sprintf("%s %d agent(s)? [y/N] ", strings.ToLower(cleanupAction), n)) {
			return nil
		}
	}

	result, err := a.pipeline.Cleanup(cmd.Context(), a.group, fleet.CleanupOptions{
		Include:       include,
		Action:        action,
		DryRun:        cleanupDryRun,
		ErrorBehavior: parseErrorBehavior(cleanupErrorBehavior),
	})
	if err != nil {
		return err
	}
	return cli.RenderOperation(os.Stdout, toOperationResult(result), domain.OutputFormat(cleanupFormat))
}

func parseCleanupAction(s string) (domain.CleanupAction, error) {
	switch strings.ToLower(s) {
	case "destroy", "":
		return domain.CleanupActionDestroy, nil
	case "stop":
		return domain.CleanupActionStop, nil
	default:
		return "", &errs.UserInputError{Message: fmt.Sprintf("unknown --action %q", s), Hint: "use destroy or stop"}
	}
}

func providerFilter(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return []string{fmt.Sprintf("host.provider in [%s]", strings.Join(quoted, ", "))}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
