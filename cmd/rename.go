package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"muster/internal/domain"
)

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename CURRENT NEW",
		Short: "Rename an agent, updating both its durable record and its multiplexer session",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func init() {
	rootCmd.AddCommand(newRenameCmd())
}

func runRename(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	current, err := domain.NewAgentName(args[0], 0)
	if err != nil {
		return err
	}
	newName, err := domain.NewAgentName(args[1], 0)
	if err != nil {
		return err
	}

	renamed, err := a.pipeline.Rename(cmd.Context(), current, newName)
	if err != nil {
		return err
	}
	fmt.Printf("renamed %s -> %s\n", current, renamed.Name())
	return nil
}
