// Package sshprovider implements the SSH provider backend (C10): hosts are
// pre-existing machines the manager reaches over SSH. CreateHost drives the
// C9 bootstrap protocol against an admin connection to bring a raw machine
// up to a usable host, installs the manager's own client/host keypairs
// (pkg/sshkeys), and from then on talks to the host only with those keys.
package sshprovider

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/hostiface"
	"muster/internal/provider"
	"muster/internal/sshsetup"
	"muster/internal/store"
	"muster/pkg/logging"
	"muster/pkg/sshkeys"
)

const backendName = domain.ProviderBackendName("ssh")
const bootstrapSubsystem = "SSHProvider"

// InstanceOptions is the per-instance configuration read out of a
// config.ProviderInstanceConfig's Options map (§6).
type InstanceOptions struct {
	// Host and Port address the target machine.
	Host string
	Port int
	// User is both the bootstrap admin user and the user the manager
	// connects as afterward.
	User string
	// AdminKeyPath is a private key used only for the initial bootstrap
	// connection, before the manager's own client key is installed. It is
	// required: when empty the bootstrap fails; no ssh-agent is consulted.
	AdminKeyPath string
	// KeyDir is where the manager's client/host keypairs and known_hosts
	// are cached (pkg/sshkeys). Required.
	KeyDir string
	// MngrHostDir is the directory on the remote machine C9's bootstrap
	// steps use for the activity watcher and host-side state.
	MngrHostDir string
}

// Provider is the SSH backend, shared across every host reached through one
// configured instance.
type Provider struct {
	instanceName domain.ProviderInstanceName
	opts         InstanceOptions
	hostStore    *store.HostStore
	agentStore   *store.AgentStore
	root         *store.Root
	registry     *domain.AgentTypeRegistry
}

// New builds an SSH Provider for one configured instance.
func New(instanceName domain.ProviderInstanceName, opts InstanceOptions, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) *Provider {
	return &Provider{instanceName: instanceName, opts: opts, hostStore: hostStore, agentStore: agentStore, root: root, registry: registry}
}

func (p *Provider) InstanceName() domain.ProviderInstanceName { return p.instanceName }
func (p *Provider) BackendName() domain.ProviderBackendName   { return backendName }

// Capabilities: tags are a local-only overlay so mutation is free; snapshots,
// volumes, and provider-driven shutdown are out of scope for an arbitrary
// SSH-reachable machine.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsMutableTags: true}
}

// connector runs shell commands over one ssh.Client, opening a fresh
// session per command the way the protocol's own steps expect (SSH sessions
// are single-use).
type connector struct {
	client *ssh.Client
}

func (c *connector) RunShell(ctx context.Context, command string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return out.String(), ctx.Err()
	case err := <-done:
		return out.String(), err
	}
}

func adminAuthMethod(opts InstanceOptions) (ssh.AuthMethod, error) {
	if opts.AdminKeyPath == "" {
		return nil, fmt.Errorf("sshprovider: no admin key configured for bootstrap; set providers.*.options.admin_key_path")
	}
	return sshkeys.PrivateKeyAuthMethod(opts.AdminKeyPath)
}

func dialAdmin(ctx context.Context, opts InstanceOptions) (*ssh.Client, error) {
	auth, err := adminAuthMethod(opts)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // no pinned key exists yet; C9 installs one this call
		Timeout:         10 * time.Second,
	}
	addr := sshsetup.FormatAddr(opts.Host, opts.Port)
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func dialPinned(ctx context.Context, opts InstanceOptions, rec domain.HostRecord) (*ssh.Client, error) {
	if rec.SSHHost == nil || rec.SSHPort == nil {
		return nil, &errs.HostOfflineError{HostName: string(rec.HostName)}
	}
	client, err := sshkeys.LoadOrCreateClientKeypair(opts.KeyDir)
	if err != nil {
		return nil, err
	}
	signer, err := sshkeys.ParsePrivateKey(client.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	callback := ssh.InsecureIgnoreHostKey()
	if rec.SSHHostPublicKey != nil && *rec.SSHHostPublicKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(*rec.SSHHostPublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse cached host key for %s: %w", rec.HostName, err)
		}
		callback = ssh.FixedHostKey(pub)
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         10 * time.Second,
	}
	addr := sshsetup.FormatAddr(*rec.SSHHost, *rec.SSHPort)
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (p *Provider) deriveState(rec domain.HostRecord) domain.HostState {
	return domain.DeriveHostState(domain.HostConnectivity{
		ProviderReportsAlive: rec.SSHHost != nil,
		SSHAccepting:         rec.SSHHost != nil,
		StopReason:           rec.StopReason,
		DataJSONReadable:     true,
	})
}

func (p *Provider) wrap(rec domain.HostRecord, client *ssh.Client) provider.OnlineHost {
	state := p.deriveState(rec)
	var conn provider.Connector
	if client != nil {
		conn = &connector{client: client}
	}
	return hostiface.New(rec, state, p.hostStore, p.agentStore, p.root, p.registry, conn)
}

// CreateHost runs the full C9 protocol against a raw, admin-reachable
// machine: install required packages, replace its host key with one this
// manager generated, authorize this manager's client key, seed known_hosts,
// and start the on-host activity watcher. Warnings surfaced by any step are
// logged, not fatal.
func (p *Provider) CreateHost(ctx context.Context, name domain.HostName, opts provider.CreateHostOptions) (provider.OnlineHost, error) {
	id := domain.DeriveHostId(string(p.instanceName), string(name))
	if _, err := p.hostStore.Load(id); err == nil {
		return nil, &errs.HostNameConflictError{HostName: string(name)}
	}

	admin, err := dialAdmin(ctx, p.opts)
	if err != nil {
		return nil, err
	}
	defer admin.Close()
	adminConn := &connector{client: admin}

	if out, err := adminConn.RunShell(ctx, sshsetup.BuildCheckAndInstallPackagesCommand(p.opts.MngrHostDir)); err != nil {
		return nil, fmt.Errorf("bootstrap packages: %w", err)
	} else {
		logWarnings(out)
	}

	clientKeypair, err := sshkeys.LoadOrCreateClientKeypair(p.opts.KeyDir)
	if err != nil {
		return nil, err
	}
	hostDir := filepath.Join(p.opts.KeyDir, "hosts", string(id))
	hostKeypair, err := sshkeys.LoadOrCreateHostKeypair(hostDir)
	if err != nil {
		return nil, err
	}

	configureCmd := sshsetup.BuildConfigureSSHCommand(p.opts.User, clientKeypair.PublicKeyLine, hostKeypair.PrivateKeyPEM, hostKeypair.PublicKeyLine)
	if out, err := adminConn.RunShell(ctx, configureCmd); err != nil {
		return nil, fmt.Errorf("configure ssh keys: %w", err)
	} else {
		logWarnings(out)
	}

	if cmd := sshsetup.BuildAddKnownHostsCommand(p.opts.User, opts.KnownHosts); cmd != "" {
		if _, err := adminConn.RunShell(ctx, cmd); err != nil {
			return nil, fmt.Errorf("add known_hosts: %w", err)
		}
	}

	watcherCmd := sshsetup.BuildStartActivityWatcherCommand(p.opts.MngrHostDir, sshsetup.ActivityWatcherScript)
	if _, err := adminConn.RunShell(ctx, watcherCmd); err != nil {
		return nil, fmt.Errorf("start activity watcher: %w", err)
	}

	if err := sshsetup.WaitForSSHBanner(ctx, sshsetup.FormatAddr(p.opts.Host, p.opts.Port), time.Second); err != nil {
		return nil, fmt.Errorf("wait for ssh banner: %w", err)
	}

	now := time.Now()
	host, port, pubkey := p.opts.Host, p.opts.Port, hostKeypair.PublicKeyLine
	rec := domain.HostRecord{
		CertifiedHostData: domain.CertifiedHostData{
			HostId: id, HostName: name, CreatedAt: now, UpdatedAt: now,
			UserTags: opts.Tags, Image: opts.Image,
		},
		SSHHost: &host, SSHPort: &port, SSHHostPublicKey: &pubkey,
		Config: domain.HostConfig{
			ProviderInstance: p.instanceName,
			BuildArgs:        opts.BuildArgs, StartArgs: opts.StartArgs,
			KnownHosts: opts.KnownHosts,
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

	client, err := dialPinned(ctx, p.opts, rec)
	if err != nil {
		return nil, err
	}
	return p.wrap(rec, client), nil
}

func logWarnings(output string) {
	for _, w := range sshsetup.ParseWarningsFromOutput(output) {
		logging.Warn(bootstrapSubsystem, "%s", w)
	}
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
	client, err := dialPinned(ctx, p.opts, rec)
	if err != nil {
		return nil, err
	}
	return p.wrap(rec, client), nil
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
	if p.deriveState(rec) != domain.HostRunning {
		return p.wrap(rec, nil), nil
	}
	client, err := dialPinned(ctx, p.opts, rec)
	if err != nil {
		return p.wrap(rec, nil), nil // degrade to offline view rather than fail the whole listing
	}
	return p.wrap(rec, client), nil
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
		out = append(out, p.wrap(rec, nil))
	}
	return out, nil
}

func (p *Provider) GetHostResources(ctx context.Context, ref provider.HostRef) (provider.HostResources, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return provider.HostResources{}, err
	}
	if p.deriveState(rec) != domain.HostRunning {
		return provider.HostResources{}, nil
	}
	client, err := dialPinned(ctx, p.opts, rec)
	if err != nil {
		return provider.HostResources{}, err
	}
	defer client.Close()
	conn := &connector{client: client}

	res := provider.HostResources{}
	if out, err := conn.RunShell(ctx, "nproc"); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
			res.CPU = n
		}
	}
	if out, err := conn.RunShell(ctx, "free -m | awk '/Mem:/{print $2}'"); err == nil {
		if mb, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
			res.MemoryGB = mb / 1024
		}
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
	return p.hostStore.SaveTags(p.resolveId(ref), tags)
}

func (p *Provider) GetConnector(ctx context.Context, ref provider.HostRef) (provider.Connector, error) {
	id := p.resolveId(ref)
	rec, err := p.hostStore.Load(id)
	if err != nil {
		return nil, err
	}
	client, err := dialPinned(ctx, p.opts, rec)
	if err != nil {
		return nil, err
	}
	return &connector{client: client}, nil
}
