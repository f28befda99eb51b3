package local

import (
	"context"
	"testing"
	"time"

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
	return New("local-default", hostStore, agentStore, root, registry)
}

func TestCreateHostThenGetHostRunning(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	h, err := p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.HostRunning, h.State())

	got, err := p.GetHost(ctx, provider.HostRef{Id: h.Id()})
	require.NoError(t, err)
	assert.Equal(t, h.Id(), got.Id())
}

func TestCreateHostNameConflict(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	_, err := p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.NoError(t, err)

	_, err = p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.Error(t, err)
	var conflictErr *errs.HostNameConflictError
	assert.ErrorAs(t, err, &conflictErr)
}

func TestStopThenStartHost(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	h, err := p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.NoError(t, err)

	ref := provider.HostRef{Id: h.Id()}
	require.NoError(t, p.StopHost(ctx, ref, false, time.Second))

	got, err := p.GetHost(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.HostStopped, got.State())

	_, err = p.StopHost(ctx, ref, false, time.Second)
	require.Error(t, err)

	started, err := p.StartHost(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.HostRunning, started.State())
}

func TestDestroyHostRemovesRecord(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	h, err := p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.NoError(t, err)

	require.NoError(t, p.DestroyHost(ctx, provider.HostRef{Id: h.Id()}))
	_, err = p.GetHost(ctx, provider.HostRef{Id: h.Id()})
	require.Error(t, err)
}

func TestListHostsFiltersByInstance(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	_, err := p.CreateHost(ctx, "box1", provider.CreateHostOptions{})
	require.NoError(t, err)
	_, err = p.CreateHost(ctx, "box2", provider.CreateHostOptions{})
	require.NoError(t, err)

	hosts, err := p.ListHosts(ctx, nil, false)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestSnapshotOpsUnsupported(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	_, err := p.ListSnapshots(ctx, provider.HostRef{})
	require.Error(t, err)
	var notSupported *errs.SnapshotsNotSupportedError
	assert.ErrorAs(t, err, &notSupported)
}

func TestGetHostResourcesReportsCPU(t *testing.T) {
	p := newTestProvider(t)
	res, err := p.GetHostResources(context.Background(), provider.HostRef{})
	require.NoError(t, err)
	assert.Greater(t, res.CPU, 0.0)
}
