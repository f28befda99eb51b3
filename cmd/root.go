package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"muster/internal/cli"
	"muster/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "mngr",
	Short:         "Create, supervise, and retire coding-assistant agents across a fleet of hosts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// version is overridden by -ldflags at build time, matching the teacher's
// own convention of a package-level var for this (cmd/version.go).
var version = "dev"

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("mngr {{.Version}}\n")
}

// Execute runs the CLI against os.Args and exits with the exit code §7
// assigns the returned error. This is the cold-start entry point; a
// warm-successor invocation goes through ExecuteArgs instead, since it must
// not call os.Exit out from under the replacement server.
func Execute() {
	os.Exit(ExecuteArgs(os.Args[1:]))
}

// ExecuteArgs runs the CLI against an explicit argv and returns the exit
// code instead of calling os.Exit, so a warm-successor replacement (which
// serves exactly one invocation per process, per internal/warmsuccessor) can
// report the result back over the handoff socket and keep running to spawn
// its own successor afterward.
func ExecuteArgs(argv []string) int {
	logFile := openLogFile()
	if logFile != nil {
		defer logFile.Close()
		logging.InitForCLI(logging.LevelInfo, logFile)
	} else {
		logging.InitForCLI(logging.LevelWarn, os.Stderr)
	}

	rootCmd.SetArgs(argv)
	err := rootCmd.Execute()
	cli.Report(err)
	return cli.ExitCodeFor(err)
}
