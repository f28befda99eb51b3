package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/domain"
	"muster/internal/provider"
)

var (
	enforceCheckIdle     bool
	enforceCheckTimeouts bool
	enforceDryRun        bool
	enforceMaxAge        time.Duration
	enforceProviders     []string
)

func newEnforceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "enforce",
		Short: "Evaluate every running host's idle policy and stop the ones that qualify",
		RunE:  runEnforce,
	}
	c.Flags().BoolVar(&enforceCheckIdle, "check-idle", true, "stop hosts whose resolved idle policy has elapsed")
	c.Flags().BoolVar(&enforceCheckTimeouts, "check-timeouts", false, "also stop hosts past the absolute age cap regardless of activity")
	c.Flags().BoolVar(&enforceDryRun, "dry-run", false, "report what would be stopped without stopping anything")
	c.Flags().DurationVar(&enforceMaxAge, "max-age", 0, "override the absolute age cap used by --check-timeouts")
	c.Flags().StringArrayVar(&enforceProviders, "provider", nil, "limit to these provider instances (repeatable)")
	return c
}

func init() {
	rootCmd.AddCommand(newEnforceCmd())
}

func runEnforce(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if enforceMaxAge > 0 {
		a.enforcer.SetMaxAge(enforceMaxAge)
	}

	recs, err := a.hostStore.List()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backends := providersByName(a)
	now := time.Now()

	wantProvider := make(map[string]bool, len(enforceProviders))
	for _, p := range enforceProviders {
		wantProvider[p] = true
	}

	for _, rec := range recs {
		if rec.StopReason != domain.StopReasonNone {
			continue
		}
		if len(wantProvider) > 0 && !wantProvider[string(rec.Config.ProviderInstance)] {
			continue
		}
		decision, err := a.enforcer.Evaluate(now, rec, provider.DefaultActivityConfig, enforceCheckIdle, enforceCheckTimeouts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: evaluating host %s: %v\n", rec.HostName, err)
			continue
		}
		if !decision.ShouldStop {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: stopping (%s, idle %.0fs)\n", rec.HostName, decision.Reason, decision.IdleSeconds)
		if enforceDryRun {
			continue
		}
		backend, ok := backends[rec.Config.ProviderInstance]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: host %s: provider instance %q not configured, skipping\n", rec.HostName, rec.Config.ProviderInstance)
			continue
		}
		if err := stopHost(ctx, backend, rec); err != nil {
			fmt.Fprintf(os.Stderr, "warning: stopping host %s: %v\n", rec.HostName, err)
		}
	}
	return nil
}

func stopHost(ctx context.Context, backend provider.Provider, rec domain.HostRecord) error {
	return backend.StopHost(ctx, provider.HostRef{Id: rec.HostId}, false, 30*time.Second)
}

// providersByName exposes a.pipeline's provider set keyed by instance name,
// the lookup enforce needs to act on a raw HostRecord's stored provider
// instance rather than the live views ListAgents already joined it with.
func providersByName(a *app) map[domain.ProviderInstanceName]provider.Provider {
	out := make(map[domain.ProviderInstanceName]provider.Provider)
	for _, p := range a.providers {
		out[p.InstanceName()] = p
	}
	return out
}
