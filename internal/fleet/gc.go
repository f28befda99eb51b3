package fleet

import (
	"context"

	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/provider"
	"muster/pkg/logging"
)

// gc runs after a DESTROY cleanup pass: for every still-existing host, it
// compares CertifiedHostData.Snapshots against the provider's live snapshot
// inventory and deletes any entry present in the certified record but
// absent on the provider (§3's "orphan snapshots ... must eventually be
// purged by the GC pass"). Failures are logged and skipped; GC is a
// best-effort tidy-up, never a reason to fail the cleanup that triggered it.
func (p *Pipeline) gc(ctx context.Context, cg *concurrency.Group) {
	for _, prov := range p.providers {
		if !prov.Capabilities().SupportsSnapshots {
			continue
		}
		hosts, err := prov.ListHosts(ctx, cg, false)
		if err != nil {
			logging.Warn(subsystem, "gc: listing hosts for provider %q: %v", prov.InstanceName(), err)
			continue
		}
		for _, h := range hosts {
			p.gcHost(ctx, prov, h)
		}
	}
}

func (p *Pipeline) gcHost(ctx context.Context, prov provider.Provider, h provider.Host) {
	ref := provider.HostRef{Id: h.Id()}
	live, err := prov.ListSnapshots(ctx, ref)
	if err != nil {
		return
	}
	liveIds := make(map[domain.SnapshotId]bool, len(live))
	for _, s := range live {
		liveIds[s.Id] = true
	}
	for _, s := range h.CertifiedData().Snapshots {
		if liveIds[s.Id] {
			continue
		}
		if err := prov.DeleteSnapshot(ctx, ref, s.Id); err != nil {
			logging.Warn(subsystem, "gc: orphan snapshot %s on host %s: %v", s.Id, h.Name(), err)
		}
	}
}
