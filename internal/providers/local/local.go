// Package local implements the local provider backend (C10): hosts are
// simply the machine the CLI runs on, partitioned by name, with tmux
// sessions managed by direct subprocess execution rather than any remote
// transport. It is the reference implementation of the provider.Provider
// contract — every other backend differs only in how it executes a shell
// command and brings a host's connectivity up.
package local

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/hostiface"
	"muster/internal/process"
	"muster/internal/provider"
	"muster/internal/store"
)

const backendName = domain.ProviderBackendName("local")

// connector runs shell commands as a subprocess of the CLI itself.
type connector struct{}

func (connector) RunShell(ctx context.Context, command string) (string, error) {
	result, err := process.Run(ctx, process.Options{Command: []string{"sh", "-c", command}})
	if err != nil {
		return "", err
	}
	if checkErr := result.Check(); checkErr != nil {
		return result.Stdout, checkErr
	}
	return result.Stdout, nil
}

// Provider is the local backend.
type Provider struct {
	instanceName domain.ProviderInstanceName
	hostStore    *store.HostStore
	agentStore   *store.AgentStore
	root         *store.Root
	registry     *domain.AgentTypeRegistry
}

// New builds a local Provider for one configured instance name.
func New(instanceName domain.ProviderInstanceName, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) *Provider {
	return &Provider{instanceName: instanceName, hostStore: hostStore, agentStore: agentStore, root: root, registry: registry}
}

func (p *Provider) InstanceName() domain.ProviderInstanceName { return p.instanceName }
func (p *Provider) BackendName() domain.ProviderBackendName   { return backendName }

// Capabilities: the local machine can't snapshot or attach volumes, but
// tag edits and a clean stop are just local file writes.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsMutableTags: true, SupportsShutdownHosts: true}
}

func (p *Provider) resolveId(ref provider.HostRef) domain.HostId {
	if ref.Id != "" {
		return ref.Id
	}
	if id, ok := p.root.ResolveName(p.instanceName, ref.Name); ok {
		return id
	}
	return domain.DeriveHostId(string(p.instanceName), string(ref.Name))
}

func (p *Provider) deriveState(rec domain.HostRecord) domain.HostState {
	return domain.DeriveHostState(domain.HostConnectivity{
		ProviderReportsAlive: true,
		SSHAccepting:         true,
		StopReason:           rec.StopReason,
		DataJSONReadable:     true,
	})
}

func (p *Provider) wrap(rec domain.HostRecord) provider.OnlineHost {
	state := p.deriveState(rec)
	var conn provider.Connector
	if state == domain.HostRunning {
		conn = connector{}
	}
	return hostiface.New(rec, state, p.hostStore, p.agentStore, p.root, p.registry, conn)
}

// CreateHost registers a new logical host. There is no build step: the host
// is immediately reachable since it's the local machine.
func (p *Provider) CreateHost(ctx context.Context, name domain.HostName, opts provider.CreateHostOptions) (provider.OnlineHost, error) {
	id := domain.DeriveHostId(string(p.instanceName), string(name))
	if _, err := p.hostStore.Load(id); err == nil {
		return nil, &errs.HostNameConflictError{HostName: string(name)}
	}

	now := time.Now()
	rec := domain.HostRecord{
		CertifiedHostData: domain.CertifiedHostData{
			HostId:    id,
			HostName:  name,
			CreatedAt: now,
			UpdatedAt: now,
			UserTags:  opts.Tags,
			Image:     opts.Image,
		},
		Config: domain.HostConfig{
			ProviderInstance: p.instanceName,
			BuildArgs:        opts.BuildArgs,
			StartArgs:        opts.StartArgs,
			KnownHosts:       opts.KnownHosts,
		},
	}
	if opts.Lifecycle != nil {
		rec.Config.IdleTimeoutSeconds = opts.Lifecycle.IdleTimeoutSeconds
		rec.Config.IdleMode = opts.Lifecycle.IdleMode
		rec.Config.ActivitySources = opts.Lifecycle.ActivitySources
	}

	if err := p.hostStore.Create(rec); err != nil {
		return nil, err
	}
	if err := p.root.RecordName(p.instanceName, name, id); err != nil {
		return nil, err
	}
	return p.wrap(rec), nil
}

func (p *Provider) StopHost(ctx context.Context, ref provider.HostRef, createSnapshot bool, timeout time.Duration) error {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return err
	}
	if p.deriveState(rec) != domain.HostRunning {
		return &errs.HostNotRunningError{HostName: string(rec.HostName)}
	}
	rec.StopReason = domain.StopReasonStopped
	return p.hostStore.Save(rec)
}

func (p *Provider) StartHost(ctx context.Context, ref provider.HostRef, snapshotId *domain.SnapshotId) (provider.OnlineHost, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	if p.deriveState(rec) != domain.HostStopped {
		return nil, &errs.HostNotStoppedError{HostName: string(rec.HostName)}
	}
	rec.StopReason = domain.StopReasonNone
	if err := p.hostStore.Save(rec); err != nil {
		return nil, err
	}
	return p.wrap(rec), nil
}

func (p *Provider) DestroyHost(ctx context.Context, ref provider.HostRef) error {
	id := p.resolveId(ref)
	if _, err := p.hostStore.Load(id); err != nil {
		return err
	}
	return p.hostStore.Delete(id)
}

func (p *Provider) GetHost(ctx context.Context, ref provider.HostRef) (provider.Host, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	return p.wrap(rec), nil
}

func (p *Provider) ListHosts(ctx context.Context, cg *concurrency.Group, includeDestroyed bool) ([]provider.Host, error) {
	_ = cg
	recs, err := p.hostStore.List()
	if err != nil {
		return nil, err
	}
	out := make([]provider.Host, 0, len(recs))
	for _, rec := range recs {
		if rec.Config.ProviderInstance != p.instanceName {
			continue
		}
		out = append(out, p.wrap(rec))
	}
	return out, nil
}

// GetHostResources reports the local machine's own CPU count and installed
// memory (parsed from /proc/meminfo, the conventional Linux source — every
// host this provider manages is the same machine).
func (p *Provider) GetHostResources(ctx context.Context, ref provider.HostRef) (provider.HostResources, error) {
	res := provider.HostResources{CPU: float64(runtime.NumCPU())}

	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return res, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err == nil {
			res.MemoryGB = kb / (1024 * 1024)
		}
		break
	}
	return res, nil
}

func (p *Provider) ListSnapshots(ctx context.Context, ref provider.HostRef) ([]provider.SnapshotRef, error) {
	return nil, &errs.SnapshotsNotSupportedError{Provider: string(backendName)}
}

func (p *Provider) CreateSnapshot(ctx context.Context, ref provider.HostRef, name domain.SnapshotName) (provider.SnapshotRef, error) {
	return provider.SnapshotRef{}, &errs.SnapshotsNotSupportedError{Provider: string(backendName)}
}

func (p *Provider) DeleteSnapshot(ctx context.Context, ref provider.HostRef, id domain.SnapshotId) error {
	return &errs.SnapshotsNotSupportedError{Provider: string(backendName)}
}

func (p *Provider) SetTags(ctx context.Context, ref provider.HostRef, tags map[string]string) error {
	id := p.resolveId(ref)
	return p.hostStore.SaveTags(id, tags)
}

func (p *Provider) GetConnector(ctx context.Context, ref provider.HostRef) (provider.Connector, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	if p.deriveState(rec) != domain.HostRunning {
		return nil, &errs.HostOfflineError{HostName: string(rec.HostName)}
	}
	return connector{}, nil
}
