package sshprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/provider"
	"muster/internal/store"
)

func newTestProvider(t *testing.T) *Provider {
	root := &store.Root{BaseDir: t.TempDir(), SessionPrefix: "mngr-"}
	hostStore := store.NewHostStore(root)
	agentStore := store.NewAgentStore(root)
	registry := domain.NewAgentTypeRegistry()
	opts := InstanceOptions{Host: "198.51.100.1", Port: 22, User: "mngr", KeyDir: t.TempDir(), MngrHostDir: "/opt/mngr"}
	return New("ssh-default", opts, hostStore, agentStore, root, registry)
}

func TestCapabilitiesAllowMutableTagsOnly(t *testing.T) {
	p := newTestProvider(t)
	caps := p.Capabilities()
	assert.True(t, caps.SupportsMutableTags)
	assert.False(t, caps.SupportsSnapshots)
	assert.False(t, caps.SupportsShutdownHosts)
}

func TestCreateHostNameConflictFailsBeforeDialing(t *testing.T) {
	p := newTestProvider(t)
	rec := domain.HostRecord{CertifiedHostData: domain.CertifiedHostData{
		HostId: domain.DeriveHostId("ssh-default", "box1"), HostName: "box1",
	}}
	require.NoError(t, p.hostStore.Create(rec))

	_, err := p.CreateHost(context.Background(), "box1", provider.CreateHostOptions{})
	require.Error(t, err)
	var conflictErr *errs.HostNameConflictError
	assert.ErrorAs(t, err, &conflictErr)
}

func TestSnapshotOpsUnsupported(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.ListSnapshots(context.Background(), provider.HostRef{})
	require.Error(t, err)
	var notSupported *errs.SnapshotsNotSupportedError
	assert.ErrorAs(t, err, &notSupported)
}

func TestSetTagsWritesLocalOverlay(t *testing.T) {
	p := newTestProvider(t)
	rec := domain.HostRecord{CertifiedHostData: domain.CertifiedHostData{
		HostId: domain.DeriveHostId("ssh-default", "box1"), HostName: "box1",
	}}
	require.NoError(t, p.hostStore.Create(rec))

	require.NoError(t, p.SetTags(context.Background(), provider.HostRef{Id: rec.HostId}, map[string]string{"env": "prod"}))
	tags, err := p.hostStore.LoadTags(rec.HostId)
	require.NoError(t, err)
	assert.Equal(t, "prod", tags["env"])
}

func TestGetHostOfflineDegradesToOfflineView(t *testing.T) {
	p := newTestProvider(t)
	id := domain.DeriveHostId("ssh-default", "box1")
	rec := domain.HostRecord{CertifiedHostData: domain.CertifiedHostData{HostId: id, HostName: "box1"}}
	require.NoError(t, p.hostStore.Create(rec))

	h, err := p.GetHost(context.Background(), provider.HostRef{Id: id})
	require.NoError(t, err)
	assert.Equal(t, domain.HostBuilding, h.State())
}
