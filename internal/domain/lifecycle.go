package domain

import (
	"os"
	"time"
)

// AgentFiles is the minimal on-disk snapshot DeriveLifecycleState needs to compute an
// agent's lifecycle state: whether its multiplexer session exists on an
// online host, and which reported marker files are present. It is built by
// the store package from a real directory listing, or by tests directly.
type AgentFiles struct {
	// SessionExists reports whether the agent's tmux session is currently
	// present on the host. Ignored (treated as false) when HostOffline is set.
	SessionExists bool
	// HostOffline is true when the owning host cannot be reached; in that
	// case every agent is STOPPED regardless of session or reported state.
	HostOffline bool
	// WaitingMarkerPresent reports whether the agent has written a
	// waiting-for-input reported marker.
	WaitingMarkerPresent bool
	// DoneMarkerPresent reports whether the agent has written a completion
	// reported marker.
	DoneMarkerPresent bool
	// ReplacedBy is non-empty when another agent with the same logical role
	// has taken over; its presence alone is enough to derive REPLACED.
	ReplacedBy AgentId
}

// DeriveLifecycleState is a pure function of a files snapshot; see §4.6 and
// the "Lifecycle derivation" testable property in the design: the same
// AgentFiles value always yields the same state.
func DeriveLifecycleState(f AgentFiles) LifecycleState {
	if f.HostOffline {
		return LifecycleStopped
	}
	if f.ReplacedBy != "" {
		return LifecycleReplaced
	}
	if f.DoneMarkerPresent {
		return LifecycleDone
	}
	if f.WaitingMarkerPresent {
		return LifecycleWaiting
	}
	if f.SessionExists {
		return LifecycleRunning
	}
	return LifecycleStopped
}

// HostConnectivity is the minimal snapshot DeriveHostState needs: what the
// provider reports plus what the certified record says. See §4.7.
type HostConnectivity struct {
	ProviderReportsAlive     bool
	ProviderReportsSuspended bool
	ProviderReportsGone      bool
	SSHAccepting             bool
	StopReason               StopReason
	DataJSONReadable         bool
}

// DeriveHostState is a pure function of a connectivity snapshot.
func DeriveHostState(c HostConnectivity) HostState {
	if c.ProviderReportsGone {
		return HostDestroyed
	}
	if c.ProviderReportsSuspended || c.StopReason == StopReasonPaused {
		return HostPaused
	}
	if c.StopReason == StopReasonStopped {
		return HostStopped
	}
	if !c.ProviderReportsAlive {
		return HostBuilding
	}
	if !c.SSHAccepting {
		return HostStarting
	}
	if c.DataJSONReadable {
		return HostRunning
	}
	return HostStarting
}

// ComputeIdleSeconds returns how long, in seconds, the freshest of the given
// mtimes has been idle relative to now. An empty slice is reported as
// infinitely idle (a host or agent with no activity sources at all never
// blocks idle detection).
func ComputeIdleSeconds(now time.Time, mtimes []time.Time) float64 {
	if len(mtimes) == 0 {
		return 1 << 30
	}
	freshest := mtimes[0]
	for _, t := range mtimes[1:] {
		if t.After(freshest) {
			freshest = t
		}
	}
	return now.Sub(freshest).Seconds()
}

// ActivityMtimes stats every regular file directly under dir and returns
// their mtimes. Missing directories yield an empty, non-error result: a
// source that has never fired simply contributes nothing to idle detection.
func ActivityMtimes(dir string) ([]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, info.ModTime())
	}
	return out, nil
}
