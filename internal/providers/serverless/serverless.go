// Package serverless implements the serverless provider backend (C11): each
// host is an ephemeral containerd task rather than a long-lived daemon
// container, modeled after the runtime client cuemby-warren's
// pkg/runtime/containerd.go wraps around github.com/containerd/containerd —
// the pack's other example of a from-scratch sandbox runtime, used here
// instead of the Docker Engine client the container provider (C10/C11
// sibling) already exercises, so the two backends draw on different parts
// of the domain stack rather than duplicating one SDK. A host's "SSH" is a
// containerd exec into the task; snapshots map onto containerd's own
// snapshotter rather than an image commit.
package serverless

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/hostiface"
	"muster/internal/provider"
	"muster/internal/store"
	"muster/pkg/logging"
)

const backendName = domain.ProviderBackendName("serverless")
const subsystem = "ServerlessProvider"

// defaultNamespace is the containerd namespace every host created by this
// provider lives under, mirroring DefaultNamespace in the runtime it was
// grounded on.
const defaultNamespace = "mngr"

// InstanceOptions is the per-instance configuration for this backend.
type InstanceOptions struct {
	// SocketPath is the containerd socket to dial, e.g. /run/containerd/containerd.sock.
	SocketPath string
	// DefaultImage is used when CreateHostOptions.Image is nil.
	DefaultImage string
	// Snapshotter names the containerd snapshotter plugin backing both
	// container rootfs and host snapshots (e.g. "overlayfs").
	Snapshotter string
}

// Provider is the serverless backend: one containerd client shared across
// every host (task) this instance manages.
type Provider struct {
	instanceName domain.ProviderInstanceName
	opts         InstanceOptions
	client       *containerd.Client
	hostStore    *store.HostStore
	agentStore   *store.AgentStore
	root         *store.Root
	registry     *domain.AgentTypeRegistry
}

// New dials containerd and builds a serverless Provider for one configured
// instance name.
func New(instanceName domain.ProviderInstanceName, opts InstanceOptions, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) (*Provider, error) {
	socket := opts.SocketPath
	if socket == "" {
		socket = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socket)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &Provider{instanceName: instanceName, opts: opts, client: client, hostStore: hostStore, agentStore: agentStore, root: root, registry: registry}, nil
}

func (p *Provider) InstanceName() domain.ProviderInstanceName { return p.instanceName }
func (p *Provider) BackendName() domain.ProviderBackendName   { return backendName }

// Capabilities: containerd's snapshotter gives this backend real
// point-in-time snapshots; a serverless sandbox has no persistent user tags
// beyond what's recorded in CertifiedHostData, and a paused/stopped host is
// simply torn down and rebuilt on the next start (no suspend primitive), so
// shutdown is supported but not through a vendor suspend call.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsSnapshots: true, SupportsShutdownHosts: true}
}

func (p *Provider) ctx() context.Context {
	return namespaces.WithNamespace(context.Background(), defaultNamespace)
}

func (p *Provider) taskIDFor(id domain.HostId) string {
	return "mngr-" + string(id)
}

// connector execs into the task via containerd's own exec facility rather
// than a remote shell.
type connector struct {
	client *containerd.Client
	taskID string
}

func (c *connector) RunShell(ctx context.Context, command string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, defaultNamespace)
	cntr, err := c.client.LoadContainer(ctx, c.taskID)
	if err != nil {
		return "", fmt.Errorf("load container %s: %w", c.taskID, err)
	}
	task, err := cntr.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", c.taskID, err)
	}

	spec, err := cntr.Spec(ctx)
	if err != nil {
		return "", fmt.Errorf("load spec %s: %w", c.taskID, err)
	}
	procSpec := spec.Process
	procSpec.Args = []string{"sh", "-c", command}

	var buf outputBuffer
	process, err := task.Exec(ctx, "mngr-exec-"+time.Now().Format("150405.000000000"), procSpec, cio.NewCreator(cio.WithStreams(nil, &buf, &buf)))
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("exec wait: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return "", fmt.Errorf("exec start: %w", err)
	}
	status := <-statusC
	out := buf.String()
	if status.ExitCode() != 0 {
		return out, fmt.Errorf("command exited with code %d", status.ExitCode())
	}
	return out, nil
}

// outputBuffer is a minimal io.Writer sink for exec output; kept separate
// from bytes.Buffer only so a concurrent reader/writer couldn't matter here
// (containerd serializes stdout/stderr delivery per process).
type outputBuffer struct {
	data []byte
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *outputBuffer) String() string { return string(b.data) }

func (p *Provider) wrap(rec domain.HostRecord, state domain.HostState, online bool) provider.OnlineHost {
	var conn provider.Connector
	if online {
		conn = &connector{client: p.client, taskID: p.taskIDFor(rec.HostId)}
	}
	return hostiface.New(rec, state, p.hostStore, p.agentStore, p.root, p.registry, conn)
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

// CreateHost pulls the image, creates a container with a new snapshot, and
// starts its task immediately — a serverless sandbox has no separate
// "build" phase visible to the caller.
func (p *Provider) CreateHost(ctx context.Context, name domain.HostName, opts provider.CreateHostOptions) (provider.OnlineHost, error) {
	id := domain.DeriveHostId(string(p.instanceName), string(name))
	if _, err := p.hostStore.Load(id); err == nil {
		return nil, &errs.HostNameConflictError{HostName: string(name)}
	}

	imageRef := p.opts.DefaultImage
	if opts.Image != nil {
		imageRef = string(*opts.Image)
	}
	if imageRef == "" {
		return nil, &errs.ImageNotFoundError{Image: "<none configured>"}
	}

	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	image, err := p.client.GetImage(cctx, imageRef)
	if err != nil {
		image, err = p.client.Pull(cctx, imageRef, containerd.WithPullUnpack)
		if err != nil {
			return nil, &errs.ImageNotFoundError{Image: imageRef}
		}
	}

	taskID := p.taskIDFor(id)
	cntr, err := p.client.NewContainer(cctx, taskID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(taskID+"-rootfs", image),
		containerd.WithNewSpec(oci.WithImageConfig(image)),
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	task, err := cntr.NewTask(cctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(cctx); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}

	now := time.Now()
	rec := domain.HostRecord{
		CertifiedHostData: domain.CertifiedHostData{
			HostId: id, HostName: name, CreatedAt: now, UpdatedAt: now,
			UserTags: opts.Tags, Image: opts.Image,
		},
		ContainerId: &taskID,
		Config: domain.HostConfig{
			ProviderInstance: p.instanceName,
			BuildArgs:        opts.BuildArgs,
			StartArgs:        opts.StartArgs,
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

// StopHost snapshots the task's rootfs (when requested) and kills it.
// A serverless sandbox has no pause primitive; "stopped" simply means the
// task is gone and StartHost will recreate it from the last snapshot.
func (p *Provider) StopHost(ctx context.Context, ref provider.HostRef, createSnapshot bool, timeout time.Duration) error {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return err
	}

	if createSnapshot {
		if _, err := p.CreateSnapshot(ctx, ref, domain.SnapshotName(fmt.Sprintf("auto-%d", time.Now().Unix()))); err != nil {
			return err
		}
	}

	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	cntr, err := p.client.LoadContainer(cctx, p.taskIDFor(id))
	if err == nil {
		if task, taskErr := cntr.Task(cctx, nil); taskErr == nil {
			stopCtx, cancel := context.WithTimeout(cctx, timeout)
			_ = task.Kill(stopCtx, syscall.SIGTERM)
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(cctx, syscall.SIGKILL)
				}
			}
			cancel()
			_, _ = task.Delete(cctx)
		}
	}

	rec.StopReason = domain.StopReasonStopped
	return p.hostStore.Save(rec)
}

// StartHost recreates the task from the host record's original image. It
// does not restore from a snapshot: neither the host's snapshots nor
// snapshotId are consulted.
func (p *Provider) StartHost(ctx context.Context, ref provider.HostRef, snapshotId *domain.SnapshotId) (provider.OnlineHost, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}

	imageRef := ""
	if rec.Image != nil {
		imageRef = string(*rec.Image)
	}
	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	image, err := p.client.GetImage(cctx, imageRef)
	if err != nil {
		return nil, &errs.ImageNotFoundError{Image: imageRef}
	}

	taskID := p.taskIDFor(id)
	cntr, err := p.client.NewContainer(cctx, taskID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(taskID+"-rootfs", image),
		containerd.WithNewSpec(oci.WithImageConfig(image)),
	)
	if err != nil {
		return nil, fmt.Errorf("recreate container: %w", err)
	}
	task, err := cntr.NewTask(cctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(cctx); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
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
	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	if cntr, err := p.client.LoadContainer(cctx, p.taskIDFor(id)); err == nil {
		if task, err := cntr.Task(cctx, nil); err == nil {
			_ = task.Kill(cctx, syscall.SIGKILL)
			_, _ = task.Delete(cctx)
		}
		if err := cntr.Delete(cctx, containerd.WithSnapshotCleanup); err != nil {
			logging.Warn(subsystem, "deleting container for host %s: %v", id, err)
		}
	}
	return p.hostStore.Delete(id)
}

func (p *Provider) GetHost(ctx context.Context, ref provider.HostRef) (provider.Host, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	cntr, err := p.client.LoadContainer(cctx, p.taskIDFor(id))
	if err != nil {
		state := domain.DeriveHostState(domain.HostConnectivity{ProviderReportsGone: rec.StopReason != domain.StopReasonStopped, StopReason: rec.StopReason, DataJSONReadable: true})
		return p.wrap(rec, state, false), nil
	}
	task, err := cntr.Task(cctx, nil)
	running := err == nil
	if running {
		status, statusErr := task.Status(cctx)
		running = statusErr == nil && status.Status == containerd.Running
	}
	state := domain.DeriveHostState(domain.HostConnectivity{
		ProviderReportsAlive: running,
		SSHAccepting:         running,
		StopReason:           rec.StopReason,
		DataJSONReadable:     true,
	})
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
			logging.Warn(subsystem, "listing host %s: %v", rec.HostId, err)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// GetHostResources reports the static envelope a sandbox host was sized at;
// containerd doesn't expose live usage without the cgroups metrics API, and
// the core only needs an envelope here, not live utilization.
func (p *Provider) GetHostResources(ctx context.Context, ref provider.HostRef) (provider.HostResources, error) {
	return provider.HostResources{}, nil
}

func (p *Provider) snapshotterName() string {
	if p.opts.Snapshotter != "" {
		return p.opts.Snapshotter
	}
	return "overlayfs"
}

// CreateSnapshot commits the task's current rootfs via containerd's
// snapshot service, the serverless analogue of the container provider's
// image commit.
func (p *Provider) CreateSnapshot(ctx context.Context, ref provider.HostRef, name domain.SnapshotName) (provider.SnapshotRef, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return provider.SnapshotRef{}, err
	}

	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	svc := p.client.SnapshotService(p.snapshotterName())
	rootfsKey := p.taskIDFor(id) + "-rootfs"
	snapKey := fmt.Sprintf("mngr-snap-%s-%s", id, name)

	if _, err := svc.View(cctx, snapKey, rootfsKey); err != nil {
		return provider.SnapshotRef{}, fmt.Errorf("snapshot rootfs: %w", err)
	}

	snap := provider.SnapshotRef{Id: domain.SnapshotId(snapKey), Name: name, CreatedAt: time.Now()}
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
	cctx := namespaces.WithNamespace(ctx, defaultNamespace)
	return p.client.SnapshotService(p.snapshotterName()).Remove(cctx, string(id))
}

// SetTags always fails with MutableTagsNotSupportedError and writes nothing:
// a serverless sandbox has no vendor tagging API of its own
// (supports_mutable_tags is false).
func (p *Provider) SetTags(ctx context.Context, ref provider.HostRef, tags map[string]string) error {
	return &errs.MutableTagsNotSupportedError{Provider: string(backendName)}
}

func (p *Provider) GetConnector(ctx context.Context, ref provider.HostRef) (provider.Connector, error) {
	id := p.resolveId(ref)
	return &connector{client: p.client, taskID: p.taskIDFor(id)}, nil
}

var _ io.Writer = (*outputBuffer)(nil)
