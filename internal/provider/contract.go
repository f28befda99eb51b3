// Package provider defines the abstract contract every backend (local, SSH,
// container, serverless) satisfies, per §4.10, along with the capability
// flags the generic fleet pipeline consults to skip operations a backend
// doesn't support.
package provider

import (
	"context"
	"time"

	"muster/internal/concurrency"
	"muster/internal/domain"
)

// HostResources describes a host's compute envelope, returned by
// GetHostResources.
type HostResources struct {
	CPU      float64
	MemoryGB float64
	DiskGB   *float64
	GPUs     *int
}

// CreateHostOptions bundles create_host's optional parameters.
type CreateHostOptions struct {
	Image         *domain.ImageReference
	Tags          map[string]string
	BuildArgs     []string
	StartArgs     []string
	Lifecycle     *HostLifecycleOptions
	KnownHosts    []string
	AuthorizedKey string
	// Snapshot, if set, names an existing snapshot (by SnapshotName) in
	// CertifiedHostData.Snapshots to start from instead of building fresh
	// (supplemented from original_source/ NewHostBuildOptions.snapshot).
	Snapshot *domain.SnapshotName
}

// HostLifecycleOptions is the per-host idle/timeout configuration
// (supplemented from original_source/ HostLifecycleOptions /
// ActivityConfig). Any field left nil falls back to the provider default
// at host-create time; ResolveActivityConfig merges the two, each set field
// overriding the provider default.
type HostLifecycleOptions struct {
	IdleTimeoutSeconds *int
	IdleMode           *domain.IdleMode
	ActivitySources    []domain.ActivitySource
}

// ActivityConfig is the fully-resolved idle/timeout policy a host's
// activity watcher (C13) runs with.
type ActivityConfig struct {
	IdleTimeoutSeconds int
	IdleMode           domain.IdleMode
	ActivitySources    []domain.ActivitySource
}

// DefaultActivityConfig is what every provider falls back to when neither
// the caller nor the provider instance configuration specifies a value.
var DefaultActivityConfig = ActivityConfig{
	IdleTimeoutSeconds: 3600,
	IdleMode:           domain.IdleModeAnySource,
	ActivitySources:    []domain.ActivitySource{domain.ActivitySourceSSH, domain.ActivitySourceMessage},
}

// ResolveActivityConfig merges caller-supplied lifecycle options over a
// provider default, leaving any unset field at the default.
func ResolveActivityConfig(opts *HostLifecycleOptions, def ActivityConfig) ActivityConfig {
	resolved := def
	if opts == nil {
		return resolved
	}
	if opts.IdleTimeoutSeconds != nil {
		resolved.IdleTimeoutSeconds = *opts.IdleTimeoutSeconds
	}
	if opts.IdleMode != nil {
		resolved.IdleMode = *opts.IdleMode
	}
	if len(opts.ActivitySources) > 0 {
		resolved.ActivitySources = opts.ActivitySources
	}
	return resolved
}

// HostRef identifies a host to a provider operation: by id when known, by
// name when only the name is in hand (e.g. from a CLI argument).
type HostRef struct {
	Id   domain.HostId
	Name domain.HostName
}

// Capabilities are the truthy flags §4.10 says the generic layer consults
// to avoid calling an operation a backend doesn't implement.
type Capabilities struct {
	SupportsSnapshots    bool
	SupportsVolumes      bool
	SupportsMutableTags  bool
	SupportsShutdownHosts bool
}

// OnlineHost is the subset of HostInterface a provider hands back for a
// host it believes is currently reachable; §4.8 describes its operations.
// The concrete type lives in internal/hostiface so provider implementations
// and the fleet pipeline share one HostInterface shape without an import
// cycle: this package only needs to name the interface, not implement it.
type OnlineHost interface {
	Host
	Connector() (Connector, error)
}

// Host is the common, online-or-offline subset every HostInterface value
// offers (§4.8).
type Host interface {
	Name() domain.HostName
	Id() domain.HostId
	CertifiedData() domain.CertifiedHostData
	State() domain.HostState
}

// Connector is the thin adapter C9 drives to bring a raw container up to a
// usable host; get_connector returns one of these.
type Connector interface {
	// RunShell executes command through the provider's preferred channel
	// and returns combined stdout (used by the SSH bootstrap steps, which
	// only care about success/failure and MNGR_WARN: lines).
	RunShell(ctx context.Context, command string) (stdout string, err error)
}

// SnapshotRef describes one named, provider-managed point-in-time image.
type SnapshotRef struct {
	Id        domain.SnapshotId
	Name      domain.SnapshotName
	CreatedAt time.Time
}

// Provider is the abstract contract of §4.10. Every backend (local, SSH,
// container, serverless) implements this against its own transport; the
// fleet pipeline (C12) never calls a backend directly except through this
// interface.
type Provider interface {
	// InstanceName identifies this configured endpoint, e.g. two SSH
	// instances pointing at different fleets.
	InstanceName() domain.ProviderInstanceName
	// BackendName identifies the kind of runtime this provider talks to.
	BackendName() domain.ProviderBackendName
	Capabilities() Capabilities

	CreateHost(ctx context.Context, name domain.HostName, opts CreateHostOptions) (OnlineHost, error)
	StopHost(ctx context.Context, ref HostRef, createSnapshot bool, timeout time.Duration) error
	StartHost(ctx context.Context, ref HostRef, snapshotId *domain.SnapshotId) (OnlineHost, error)
	DestroyHost(ctx context.Context, ref HostRef) error
	GetHost(ctx context.Context, ref HostRef) (Host, error)
	ListHosts(ctx context.Context, cg *concurrency.Group, includeDestroyed bool) ([]Host, error)
	GetHostResources(ctx context.Context, ref HostRef) (HostResources, error)

	ListSnapshots(ctx context.Context, ref HostRef) ([]SnapshotRef, error)
	CreateSnapshot(ctx context.Context, ref HostRef, name domain.SnapshotName) (SnapshotRef, error)
	DeleteSnapshot(ctx context.Context, ref HostRef, id domain.SnapshotId) error

	SetTags(ctx context.Context, ref HostRef, tags map[string]string) error

	GetConnector(ctx context.Context, ref HostRef) (Connector, error)
}
