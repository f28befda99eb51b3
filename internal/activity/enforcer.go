package activity

import (
	"time"

	"muster/internal/domain"
	"muster/internal/provider"
	"muster/internal/store"
)

// Decision is one host's enforcement outcome: whether it should be stopped
// and why.
type Decision struct {
	HostId      domain.HostId
	HostName    domain.HostName
	ShouldStop  bool
	Reason      string // "idle" or "timeout"
	IdleSeconds float64
	AgeSeconds  float64
}

// DefaultMaxAgeSeconds is the absolute-age cap `enforce --check-timeouts`
// applies when a host's idle policy doesn't otherwise catch it: a host
// running longer than this is stopped regardless of activity, a backstop
// against a wedged activity source.
const DefaultMaxAgeSeconds = 24 * time.Hour

// Enforcer is the off-host counterpart to the on-host Watcher: it reads the
// same durable activity files as the watcher (§4.5, §4.13) but does so from
// outside, computing idle duration itself rather than trusting whatever the
// watcher decided server-side.
type Enforcer struct {
	hostStore     *store.HostStore
	agentStore    *store.AgentStore
	maxAgeSeconds time.Duration
}

// NewEnforcer builds an Enforcer over the given stores with the default
// absolute-age cap.
func NewEnforcer(hostStore *store.HostStore, agentStore *store.AgentStore) *Enforcer {
	return &Enforcer{hostStore: hostStore, agentStore: agentStore, maxAgeSeconds: DefaultMaxAgeSeconds}
}

// SetMaxAge overrides the absolute-age cap check_timeouts enforces.
func (e *Enforcer) SetMaxAge(d time.Duration) { e.maxAgeSeconds = d }

// Evaluate computes whether rec should be stopped right now. checkIdle
// applies the host's resolved idle policy; checkTimeouts additionally
// enforces the absolute-age cap. A host already stopped, paused, or
// destroyed is never a candidate.
func (e *Enforcer) Evaluate(now time.Time, rec domain.HostRecord, defaultCfg provider.ActivityConfig, checkIdle, checkTimeouts bool) (Decision, error) {
	d := Decision{HostId: rec.HostId, HostName: rec.HostName}
	d.AgeSeconds = now.Sub(rec.CreatedAt).Seconds()
	if rec.StopReason == domain.StopReasonStopped || rec.StopReason == domain.StopReasonPaused {
		return d, nil
	}

	if checkIdle {
		cfg := provider.ResolveActivityConfig(&provider.HostLifecycleOptions{
			IdleTimeoutSeconds: rec.Config.IdleTimeoutSeconds,
			IdleMode:           rec.Config.IdleMode,
			ActivitySources:    rec.Config.ActivitySources,
		}, defaultCfg)

		hostMtimes, err := e.hostStore.HostActivityMtimes(rec.HostId)
		if err != nil {
			return d, err
		}
		agentRecs, err := e.agentStore.List(rec.HostId)
		if err != nil {
			return d, err
		}
		perAgent := make([][]time.Time, 0, len(agentRecs))
		for _, a := range agentRecs {
			mtimes, err := e.agentStore.ActivityMtimes(rec.HostId, a.Id)
			if err != nil {
				continue
			}
			perAgent = append(perAgent, mtimes)
		}

		idleSeconds, idle := EvaluateIdle(cfg, now, hostMtimes, perAgent)
		d.IdleSeconds = idleSeconds
		if idle {
			d.ShouldStop = true
			d.Reason = "idle"
		}
	}

	if checkTimeouts && !d.ShouldStop && d.AgeSeconds >= e.maxAgeSeconds.Seconds() {
		d.ShouldStop = true
		d.Reason = "timeout"
	}

	return d, nil
}
