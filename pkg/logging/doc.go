// Package logging provides the structured logging used across every
// command in the fleet manager: a thin wrapper over log/slog that adds a
// subsystem tag to each line and a dedicated audit trail for actions that
// create, destroy, start, or stop a host or agent.
//
// # Log Levels
//   - Debug: detailed information for diagnosing provider and process issues
//   - Info: normal operational messages
//   - Warn: recoverable problems, e.g. a straggling child process
//   - Error: failures, always carrying the originating error
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Fleet", "starting host %s", hostName)
//	logging.Error("SSHProvider", err, "failed to connect to %s", addr)
//
// # Audit Trail
//
// Actions that change fleet state go through Audit instead of Info, so they
// can be filtered out of ordinary diagnostic noise:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "host_destroy",
//	    Outcome: "success",
//	    HostId:  logging.TruncateId(host.Id.String()),
//	    Target:  string(host.Config.ProviderInstance),
//	})
package logging
