// Package errs holds the named error kinds of §7: small, exported struct
// types that satisfy error, each carrying enough context (the offending
// name, a command tuple, a reason) for the top-level handler to print a
// short message and an actionable hint instead of a bare Go error string.
package errs

import "fmt"

// HelpfulError is implemented by error kinds that carry a user-facing hint
// in addition to their message; the CLI's top-level handler prints both
// lines, mirroring the teacher's cobra error wrapping.
type HelpfulError interface {
	error
	UserHelpText() string
}

// UserInputError is surfaced immediately, with a help hint attached.
type UserInputError struct {
	Message string
	Hint    string
}

func (e *UserInputError) Error() string      { return e.Message }
func (e *UserInputError) UserHelpText() string { return e.Hint }

// ConfigStructureError reports a malformed configuration document; never
// retried, aborts the command.
type ConfigStructureError struct {
	Path   string
	Reason string
}

func (e *ConfigStructureError) Error() string {
	return fmt.Sprintf("malformed configuration at %s: %s", e.Path, e.Reason)
}

// HostNotRunningError is returned by an operation that requires a running
// host when the host is not running.
type HostNotRunningError struct{ HostName string }

func (e *HostNotRunningError) Error() string { return fmt.Sprintf("host %q is not running", e.HostName) }

// HostNotStoppedError is returned by start_host when the host isn't in a
// stopped state.
type HostNotStoppedError struct{ HostName string }

func (e *HostNotStoppedError) Error() string { return fmt.Sprintf("host %q is not stopped", e.HostName) }

// HostOfflineError is returned by an agent-level operation when its host
// cannot currently be reached.
type HostOfflineError struct{ HostName string }

func (e *HostOfflineError) Error() string { return fmt.Sprintf("host %q is offline", e.HostName) }

// HostNameConflictError is returned by create_host when the requested name
// is already in use within the provider instance; never recovered.
type HostNameConflictError struct{ HostName string }

func (e *HostNameConflictError) Error() string {
	return fmt.Sprintf("host name %q is already in use", e.HostName)
}

// ImageNotFoundError is returned when a requested image reference can't be
// resolved by the provider.
type ImageNotFoundError struct{ Image string }

func (e *ImageNotFoundError) Error() string { return fmt.Sprintf("image %q not found", e.Image) }

// SnapshotNotFoundError is returned when a requested snapshot id/name has
// no match in the provider's inventory.
type SnapshotNotFoundError struct{ Snapshot string }

func (e *SnapshotNotFoundError) Error() string { return fmt.Sprintf("snapshot %q not found", e.Snapshot) }

// SnapshotsNotSupportedError signals a capability-guarded no-op: the
// provider doesn't implement snapshots (supports_snapshots == false).
type SnapshotsNotSupportedError struct{ Provider string }

func (e *SnapshotsNotSupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support snapshots", e.Provider)
}

// VolumesNotSupportedError mirrors SnapshotsNotSupportedError for volumes.
type VolumesNotSupportedError struct{ Provider string }

func (e *VolumesNotSupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support volumes", e.Provider)
}

// MutableTagsNotSupportedError mirrors SnapshotsNotSupportedError for tags.
type MutableTagsNotSupportedError struct{ Provider string }

func (e *MutableTagsNotSupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support mutable tags", e.Provider)
}

// ShutdownHostsNotSupportedError mirrors the above for stop_host.
type ShutdownHostsNotSupportedError struct{ Provider string }

func (e *ShutdownHostsNotSupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support shutting down hosts", e.Provider)
}

// TagLimitExceededError fails a tag operation that would exceed the
// provider's limit on user tags.
type TagLimitExceededError struct {
	HostName string
	Limit    int
}

func (e *TagLimitExceededError) Error() string {
	return fmt.Sprintf("host %q already has the maximum of %d tags", e.HostName, e.Limit)
}

// GitCloneError wraps a failed clone/fetch during work-dir sync.
type GitCloneError struct {
	RepoURL string
	Reason  error
}

func (e *GitCloneError) Error() string { return fmt.Sprintf("git clone %s: %v", e.RepoURL, e.Reason) }
func (e *GitCloneError) Unwrap() error { return e.Reason }

// UncommittedChangesError is returned by a work-dir sync that encounters
// uncommitted local changes under a policy that doesn't auto-resolve them.
type UncommittedChangesError struct {
	Path string
	Mode string
}

func (e *UncommittedChangesError) Error() string {
	return fmt.Sprintf("%s has uncommitted changes (mode=%s)", e.Path, e.Mode)
}

// PluginMngrError is logged and surfaced as a single per-plugin failure;
// it never crashes the pipeline.
type PluginMngrError struct {
	Plugin string
	Reason error
}

func (e *PluginMngrError) Error() string { return fmt.Sprintf("plugin %q: %v", e.Plugin, e.Reason) }
func (e *PluginMngrError) Unwrap() error { return e.Reason }

// NestedTmuxError is returned by connect when the caller is already inside
// a tmux client (attaching a second session inside the first confuses key
// bindings and signal delivery).
type NestedTmuxError struct{}

func (e *NestedTmuxError) Error() string { return "refusing to connect: already inside a tmux session" }
func (e *NestedTmuxError) UserHelpText() string {
	return "detach from the outer tmux session first (Ctrl-b d), then reconnect"
}

// ClaudeDirectoryNotTrustedError is returned when an agent type's
// provisioning step needs a trust confirmation for the work directory that
// hasn't been given.
type ClaudeDirectoryNotTrustedError struct{ WorkDir string }

func (e *ClaudeDirectoryNotTrustedError) Error() string {
	return fmt.Sprintf("%s is not a trusted directory", e.WorkDir)
}
func (e *ClaudeDirectoryNotTrustedError) UserHelpText() string {
	return "re-run with --trust-dir to confirm this work directory, or trust it interactively on first connect"
}

// FilterParseError reports a malformed include/exclude filter expression
// passed to the fleet pipeline's listing/selection operations (§4.12).
type FilterParseError struct {
	Expression string
	Reason     string
}

func (e *FilterParseError) Error() string {
	return fmt.Sprintf("invalid filter expression %q: %s", e.Expression, e.Reason)
}

// ProviderError is a per-provider failure surfaced during listing or any
// other fan-out operation; it never aborts the overall operation unless
// ErrorBehaviorAbort was requested.
type ProviderError struct {
	Provider string
	Reason   error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider %q: %v", e.Provider, e.Reason) }
func (e *ProviderError) Unwrap() error { return e.Reason }
