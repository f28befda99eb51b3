// Package container implements the container provider backend (C11): each
// host is a Docker container, managed through the Docker Engine API client
// rather than shelling out to the docker CLI (internal/containerizer's
// approach in the teacher repo, generalized here to the SDK the rest of the
// pack favors for daemon control). A host's "SSH" is actually `docker exec`;
// snapshots map onto image commits.
package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/hostiface"
	"muster/internal/provider"
	"muster/internal/store"
	"muster/pkg/logging"
)

const backendName = domain.ProviderBackendName("container")
const containerSubsystem = "ContainerProvider"

// label keys written on every container this provider creates. They are not
// read back; a container is found by its name (containerIDFor).
const (
	labelHostId       = "mngr.host_id"
	labelProviderName = "mngr.provider_instance"
)

// InstanceOptions is the per-instance configuration for this backend.
type InstanceOptions struct {
	// DefaultImage is used when CreateHostOptions.Image is nil.
	DefaultImage string
}

// Provider is the container backend, one Docker Engine API client shared
// across every host this instance manages.
type Provider struct {
	instanceName domain.ProviderInstanceName
	opts         InstanceOptions
	docker       *client.Client
	hostStore    *store.HostStore
	agentStore   *store.AgentStore
	root         *store.Root
	registry     *domain.AgentTypeRegistry
}

// New builds a container Provider. It negotiates the Docker API version
// against the local daemon the way every docker/docker/client consumer does.
func New(instanceName domain.ProviderInstanceName, opts InstanceOptions, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Provider{instanceName: instanceName, opts: opts, docker: cli, hostStore: hostStore, agentStore: agentStore, root: root, registry: registry}, nil
}

func (p *Provider) InstanceName() domain.ProviderInstanceName { return p.instanceName }
func (p *Provider) BackendName() domain.ProviderBackendName   { return backendName }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsSnapshots: true, SupportsMutableTags: true, SupportsShutdownHosts: true}
}

// connector runs shell commands via docker exec.
type connector struct {
	docker      *client.Client
	containerID string
}

func (c *connector) RunShell(ctx context.Context, command string) (string, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := c.docker.ContainerExecCreate(ctx, c.containerID, execCfg)
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}
	attach, err := c.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	out, err := io.ReadAll(attach.Reader)
	if err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return string(out), err
	}
	if inspect.ExitCode != 0 {
		return string(out), fmt.Errorf("command exited with code %d", inspect.ExitCode)
	}
	return string(out), nil
}

func (p *Provider) containerIDFor(id domain.HostId) string {
	return "mngr-" + string(id)
}

func (p *Provider) deriveState(rec domain.HostRecord, inspectOK, running bool) domain.HostState {
	return domain.DeriveHostState(domain.HostConnectivity{
		ProviderReportsAlive:     inspectOK && running,
		ProviderReportsSuspended: inspectOK && !running && rec.StopReason == domain.StopReasonPaused,
		ProviderReportsGone:      !inspectOK,
		SSHAccepting:             inspectOK && running,
		StopReason:               rec.StopReason,
		DataJSONReadable:         true,
	})
}

func (p *Provider) wrap(rec domain.HostRecord, state domain.HostState, online bool) provider.OnlineHost {
	var conn provider.Connector
	if online {
		conn = &connector{docker: p.docker, containerID: p.containerIDFor(rec.HostId)}
	}
	return hostiface.New(rec, state, p.hostStore, p.agentStore, p.root, p.registry, conn)
}

func (p *Provider) CreateHost(ctx context.Context, name domain.HostName, opts provider.CreateHostOptions) (provider.OnlineHost, error) {
	id := domain.DeriveHostId(string(p.instanceName), string(name))
	if _, err := p.hostStore.Load(id); err == nil {
		return nil, &errs.HostNameConflictError{HostName: string(name)}
	}

	image := p.opts.DefaultImage
	if opts.Image != nil {
		image = string(*opts.Image)
	}
	if image == "" {
		return nil, &errs.ImageNotFoundError{Image: "<none configured>"}
	}

	containerName := p.containerIDFor(id)
	created, err := p.docker.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Cmd:   []string{"sleep", "infinity"},
			Labels: map[string]string{
				labelHostId:       string(id),
				labelProviderName: string(p.instanceName),
			},
		},
		&container.HostConfig{},
		nil, nil, containerName,
	)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return nil, &errs.ImageNotFoundError{Image: image}
		}
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := p.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	now := time.Now()
	rec := domain.HostRecord{
		CertifiedHostData: domain.CertifiedHostData{
			HostId: id, HostName: name, CreatedAt: now, UpdatedAt: now,
			UserTags: opts.Tags, Image: opts.Image,
		},
		ContainerId: &created.ID,
		Config: domain.HostConfig{
			ProviderInstance: p.instanceName,
			BuildArgs:        opts.BuildArgs, StartArgs: opts.StartArgs,
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

	return p.wrap(rec, domain.HostRunning, true), nil
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

func (p *Provider) StopHost(ctx context.Context, ref provider.HostRef, createSnapshot bool, timeout time.Duration) error {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return err
	}

	if createSnapshot {
		if _, err := p.commitSnapshot(ctx, rec, fmt.Sprintf("auto-%d", time.Now().Unix())); err != nil {
			return err
		}
	}

	timeoutSecs := int(timeout.Seconds())
	if err := p.docker.ContainerStop(ctx, p.containerIDFor(id), container.StopOptions{Timeout: &timeoutSecs}); err != nil {
		return fmt.Errorf("stop container: %w", err)
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

	if err := p.docker.ContainerStart(ctx, p.containerIDFor(id), container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	rec.StopReason = domain.StopReasonNone
	if err := p.hostStore.Save(rec); err != nil {
		return nil, err
	}
	return p.wrap(rec, domain.HostRunning, true), nil
}

func (p *Provider) DestroyHost(ctx context.Context, ref provider.HostRef) error {
	id := p.resolveId(ref)
	if _, err := p.hostStore.Load(id); err != nil {
		return err
	}
	if err := p.docker.ContainerRemove(ctx, p.containerIDFor(id), container.RemoveOptions{Force: true}); err != nil {
		logging.Warn(containerSubsystem, "removing container for host %s: %v", id, err)
	}
	return p.hostStore.Delete(id)
}

func (p *Provider) GetHost(ctx context.Context, ref provider.HostRef) (provider.Host, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	inspect, inspectErr := p.docker.ContainerInspect(ctx, p.containerIDFor(id))
	if inspectErr != nil {
		return p.wrap(rec, p.deriveState(rec, false, false), false), nil
	}
	running := inspect.State != nil && inspect.State.Running
	state := p.deriveState(rec, true, running)
	return p.wrap(rec, state, running), nil
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
		h, err := p.GetHost(ctx, provider.HostRef{Id: rec.HostId})
		if err != nil {
			logging.Warn(containerSubsystem, "listing host %s: %v", rec.HostId, err)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (p *Provider) GetHostResources(ctx context.Context, ref provider.HostRef) (provider.HostResources, error) {
	id := p.resolveId(ref)
	inspect, err := p.docker.ContainerInspect(ctx, p.containerIDFor(id))
	if err != nil {
		return provider.HostResources{}, fmt.Errorf("inspect container: %w", err)
	}
	res := provider.HostResources{}
	if inspect.HostConfig != nil {
		if inspect.HostConfig.NanoCPUs > 0 {
			res.CPU = float64(inspect.HostConfig.NanoCPUs) / 1e9
		}
		if inspect.HostConfig.Memory > 0 {
			res.MemoryGB = float64(inspect.HostConfig.Memory) / (1024 * 1024 * 1024)
		}
	}
	return res, nil
}

func (p *Provider) commitSnapshot(ctx context.Context, rec domain.HostRecord, name string) (provider.SnapshotRef, error) {
	committed, err := p.docker.ContainerCommit(ctx, p.containerIDFor(rec.HostId), container.CommitOptions{Reference: fmt.Sprintf("mngr-snap-%s:%s", rec.HostId, name)})
	if err != nil {
		return provider.SnapshotRef{}, fmt.Errorf("commit snapshot: %w", err)
	}
	snap := provider.SnapshotRef{Id: domain.SnapshotId(committed.ID), Name: domain.SnapshotName(name), CreatedAt: time.Now()}

	rec.Snapshots = append(rec.Snapshots, domain.Snapshot{Id: snap.Id, Name: snap.Name, CreatedAt: snap.CreatedAt})
	if err := p.hostStore.Save(rec); err != nil {
		return snap, err
	}
	return snap, nil
}

func (p *Provider) ListSnapshots(ctx context.Context, ref provider.HostRef) ([]provider.SnapshotRef, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	out := make([]provider.SnapshotRef, 0, len(rec.Snapshots))
	for _, s := range rec.Snapshots {
		out = append(out, provider.SnapshotRef{Id: s.Id, Name: s.Name, CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (p *Provider) CreateSnapshot(ctx context.Context, ref provider.HostRef, name domain.SnapshotName) (provider.SnapshotRef, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return provider.SnapshotRef{}, err
	}
	return p.commitSnapshot(ctx, rec, string(name))
}

func (p *Provider) DeleteSnapshot(ctx context.Context, ref provider.HostRef, id domain.SnapshotId) error {
	hostId := p.resolveId(ref)
	rec, err := p.hostStore.Load(hostId)
	if err != nil {
		return err
	}
	found := false
	kept := rec.Snapshots[:0]
	for _, s := range rec.Snapshots {
		if s.Id == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return &errs.SnapshotNotFoundError{Snapshot: string(id)}
	}
	rec.Snapshots = kept
	if err := p.hostStore.Save(rec); err != nil {
		return err
	}
	_, err = p.docker.ImageRemove(ctx, string(id), imagetypes.RemoveOptions{Force: true})
	return err
}

func (p *Provider) SetTags(ctx context.Context, ref provider.HostRef, tags map[string]string) error {
	return p.hostStore.SaveTags(p.resolveId(ref), tags)
}

func (p *Provider) GetConnector(ctx context.Context, ref provider.HostRef) (provider.Connector, error) {
	id := p.resolveId(ref)
	return &connector{docker: p.docker, containerID: p.containerIDFor(id)}, nil
}
