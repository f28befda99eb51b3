package cli

import (
	"errors"
	"fmt"
	"os"

	"muster/internal/errs"
	"muster/internal/process"
	"muster/internal/store"
)

// Exit codes per §6: 0 success, 1 any user-visible failure, 2 usage error,
// 10/11 reserved for the interactive-disconnect protocol ("caller wants
// destroy" / "caller wants stop").
const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitUsage             = 2
	ExitDisconnectDestroy = 10
	ExitDisconnectStop    = 11
)

// ExitCodeFor maps a recognized domain error to its exit code per §7's
// propagation policy. Unknown errors get ExitFailure. Panics are not
// recovered anywhere, including main; the Go runtime prints the stack
// trace and exits with status 2.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var userErr *errs.UserInputError
	if errors.As(err, &userErr) {
		return ExitUsage
	}

	var cfgErr *errs.ConfigStructureError
	if errors.As(err, &cfgErr) {
		return ExitFailure
	}

	return ExitFailure
}

// Report prints a recognized domain error as the two-line shape §7
// describes for errors carrying a user_help_text: the message, then the
// hint. Errors without a hint print just the message. Output goes to
// stderr, matching the teacher's cmd/root.go convention of leaving stdout
// reserved for command output.
func Report(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err.Error())

	var helpful errs.HelpfulError
	if errors.As(err, &helpful) {
		if hint := helpful.UserHelpText(); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
	}

	var procErr *process.RunError
	if errors.As(err, &procErr) && !procErr.IsOutputAlreadyLogged {
		if procErr.Stdout != "" {
			fmt.Fprintln(os.Stderr, "--- stdout ---")
			fmt.Fprintln(os.Stderr, procErr.Stdout)
		}
		if procErr.Stderr != "" {
			fmt.Fprintln(os.Stderr, "--- stderr ---")
			fmt.Fprintln(os.Stderr, procErr.Stderr)
		}
	}
}

// IsRecoverablePerItem reports whether err is one of the kinds §7 marks as
// "per-item failure under CONTINUE; abort under ABORT" rather than always
// fatal — the fleet pipeline uses this to decide whether a single agent or
// host failure should be folded into a result's failure list instead of
// aborting the whole operation.
func IsRecoverablePerItem(err error) bool {
	var hostNotFound *store.HostNotFoundError
	var agentNotFound *store.AgentNotFoundError
	var notRunning *errs.HostNotRunningError
	var notStopped *errs.HostNotStoppedError
	var offline *errs.HostOfflineError
	var providerErr *errs.ProviderError
	var pluginErr *errs.PluginMngrError

	switch {
	case errors.As(err, &hostNotFound),
		errors.As(err, &agentNotFound),
		errors.As(err, &notRunning),
		errors.As(err, &notStopped),
		errors.As(err, &offline),
		errors.As(err, &providerErr),
		errors.As(err, &pluginErr):
		return true
	}
	return false
}
