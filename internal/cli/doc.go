// Package cli holds the presentation layer shared by every muster
// subcommand: the kubectl-style plain table writer, human/json/jsonl
// rendering of fleet pipeline results, and the top-level error-to-exit-code
// mapping described in §7.
//
// Commands build their cobra.Command values in cmd/ and call into this
// package only to render results and to translate a returned error into an
// exit code; no command does its own formatting or its own exit(2)/exit(1)
// logic.
package cli
