// Package activity implements C13: the on-host activity watcher sidecar
// that triggers a host's shutdown script once its configured idle policy
// fires, and the off-host enforcer the `enforce` CLI command drives to scan
// listed hosts and apply the same policy from outside.
package activity

import (
	"time"

	"muster/internal/domain"
	"muster/internal/provider"
)

// EvaluateIdle computes whether a host should be considered idle under its
// configured IdleMode, given the host-level activity mtimes and each
// agent's own activity mtimes (§4.13).
//
//   - disabled: never idle.
//   - any_source: idle iff the freshest mtime across host and every agent
//     is older than the threshold.
//   - all_agents_idle: idle iff every agent exists and every agent's own
//     freshest mtime is older than the threshold; a host with zero agents
//     is never idle under this mode.
//
// The returned duration is how long the relevant source set has been idle;
// ok reports whether that duration meets or exceeds the threshold.
func EvaluateIdle(cfg provider.ActivityConfig, now time.Time, hostMtimes []time.Time, perAgentMtimes [][]time.Time) (idleSeconds float64, ok bool) {
	threshold := float64(cfg.IdleTimeoutSeconds)

	switch cfg.IdleMode {
	case domain.IdleModeDisabled:
		return 0, false

	case domain.IdleModeAllAgentsIdle:
		if len(perAgentMtimes) == 0 {
			return 0, false
		}
		min := -1.0
		for _, mtimes := range perAgentMtimes {
			secs := domain.ComputeIdleSeconds(now, mtimes)
			if min < 0 || secs < min {
				min = secs
			}
		}
		return min, min >= threshold

	default: // any_source
		all := append([]time.Time(nil), hostMtimes...)
		for _, mtimes := range perAgentMtimes {
			all = append(all, mtimes...)
		}
		secs := domain.ComputeIdleSeconds(now, all)
		return secs, secs >= threshold
	}
}
