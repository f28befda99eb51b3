package fleet

import (
	"context"
	"time"

	"muster/internal/activity"
	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/provider"
)

// EnforceOptions configures Enforce.
type EnforceOptions struct {
	CheckIdle     bool
	CheckTimeouts bool
	DryRun        bool
}

// EnforceDecision pairs one host with the off-host enforcer's verdict,
// returned so the `enforce` command can render what happened (or, under
// DryRun, what would have happened).
type EnforceDecision struct {
	Host     HostView
	Decision activity.Decision
	Stopped  bool
	Err      error
}

// Enforce scans every listed host and, for any whose idle/timeout policy
// fires, issues stop_host(create_snapshot=true) unless DryRun is set
// (§4.13's off-host enforcer, §8 scenario 6). It reuses ListAgents' provider
// fan-out so `--provider` filtering applies the same way listing does.
func (p *Pipeline) Enforce(ctx context.Context, cg *concurrency.Group, enforcer *activity.Enforcer, opts EnforceOptions) ([]EnforceDecision, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return nil, err
	}

	var out []EnforceDecision
	now := time.Now()
	for _, g := range listed.Hosts {
		if g.Host.State != domain.HostRunning {
			continue
		}
		rec := g.Host.Host.Record()
		decision, err := enforcer.Evaluate(now, rec, provider.DefaultActivityConfig, opts.CheckIdle, opts.CheckTimeouts)
		if err != nil {
			out = append(out, EnforceDecision{Host: g.Host, Err: err})
			continue
		}
		if !decision.ShouldStop {
			continue
		}

		ed := EnforceDecision{Host: g.Host, Decision: decision}
		if !opts.DryRun {
			if err := g.Backend.StopHost(ctx, provider.HostRef{Id: g.Host.Id}, true, 60*time.Second); err != nil {
				if !g.Backend.Capabilities().SupportsShutdownHosts {
					ed.Err = &errs.ShutdownHostsNotSupportedError{Provider: string(g.Backend.InstanceName())}
				} else {
					ed.Err = err
				}
			} else {
				ed.Stopped = true
			}
		}
		out = append(out, ed)
	}
	return out, nil
}
