package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
)

func newTestRoot(t *testing.T) *Root {
	return &Root{BaseDir: t.TempDir(), SessionPrefix: "mngr-"}
}

func TestHostStoreRoundTrip(t *testing.T) {
	root := newTestRoot(t)
	hs := NewHostStore(root)

	id := domain.DeriveHostId("local", "box1")
	rec := domain.HostRecord{
		CertifiedHostData: domain.CertifiedHostData{
			HostId:    id,
			HostName:  "box1",
			CreatedAt: time.Now().Truncate(time.Second),
			UpdatedAt: time.Now().Truncate(time.Second),
			UserTags:  map[string]string{"env": "dev"},
		},
	}

	require.NoError(t, hs.Create(rec))

	got, err := hs.Load(id)
	require.NoError(t, err)
	assert.Equal(t, rec.HostName, got.HostName)
	assert.Equal(t, rec.UserTags, got.UserTags)

	_, err = hs.Load(domain.DeriveHostId("local", "missing"))
	var nf *HostNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestHostIdDeterminism(t *testing.T) {
	a := domain.DeriveHostId("ssh-fleet", "box1")
	b := domain.DeriveHostId("ssh-fleet", "box1")
	c := domain.DeriveHostId("ssh-fleet", "box2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAgentStoreCreateConflict(t *testing.T) {
	root := newTestRoot(t)
	as := NewAgentStore(root)
	hostId := domain.DeriveHostId("local", "box1")

	a1 := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", HostId: hostId, CreateTime: time.Now()}
	require.NoError(t, as.Create(a1))

	a2 := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", HostId: hostId, CreateTime: time.Now()}
	err := as.Create(a2)
	var conflict *AgentNameConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestAgentRenameIdempotent(t *testing.T) {
	root := newTestRoot(t)
	as := NewAgentStore(root)
	hostId := domain.DeriveHostId("local", "box1")

	a := domain.AgentRecord{Id: domain.NewAgentId(), Name: "old", HostId: hostId, CreateTime: time.Now()}
	require.NoError(t, as.Create(a))

	renamed, err := as.Rename(hostId, a.Id, "new")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentName("new"), renamed.Name)

	// Renaming the same (current, target) pair again is a no-op.
	again, err := as.Rename(hostId, a.Id, "new")
	require.NoError(t, err)
	assert.Equal(t, renamed, again)
}

func TestAgentRenameConflict(t *testing.T) {
	root := newTestRoot(t)
	as := NewAgentStore(root)
	hostId := domain.DeriveHostId("local", "box1")

	a1 := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", HostId: hostId, CreateTime: time.Now()}
	a2 := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a2", HostId: hostId, CreateTime: time.Now()}
	require.NoError(t, as.Create(a1))
	require.NoError(t, as.Create(a2))

	_, err := as.Rename(hostId, a2.Id, "a1")
	var conflict *AgentNameConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestActivityMtimeMonotonic(t *testing.T) {
	root := newTestRoot(t)
	as := NewAgentStore(root)
	hostId := domain.DeriveHostId("local", "box1")
	a := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", HostId: hostId, CreateTime: time.Now()}
	require.NoError(t, as.Create(a))

	require.NoError(t, as.TouchActivity(hostId, a.Id, domain.ActivitySourceSSH))
	first, err := as.ActivityMtimes(hostId, a.Id)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, as.TouchActivity(hostId, a.Id, domain.ActivitySourceSSH))
	second, err := as.ActivityMtimes(hostId, a.Id)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, !second[0].Before(first[0]))
}

func TestHostLockExclusive(t *testing.T) {
	root := newTestRoot(t)
	dir := root.HostDir(domain.DeriveHostId("local", "box1"))

	lock, err := AcquireHostLock(dir, time.Second)
	require.NoError(t, err)

	_, err = AcquireHostLock(dir, 50*time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, lock.Close())

	lock2, err := AcquireHostLock(dir, time.Second)
	require.NoError(t, err)
	require.NoError(t, lock2.Close())
}

func TestDeriveLifecycleState(t *testing.T) {
	assert.Equal(t, domain.LifecycleStopped, domain.DeriveLifecycleState(domain.AgentFiles{HostOffline: true, SessionExists: true}))
	assert.Equal(t, domain.LifecycleRunning, domain.DeriveLifecycleState(domain.AgentFiles{SessionExists: true}))
	assert.Equal(t, domain.LifecycleWaiting, domain.DeriveLifecycleState(domain.AgentFiles{SessionExists: true, WaitingMarkerPresent: true}))
	assert.Equal(t, domain.LifecycleDone, domain.DeriveLifecycleState(domain.AgentFiles{DoneMarkerPresent: true}))
	assert.Equal(t, domain.LifecycleReplaced, domain.DeriveLifecycleState(domain.AgentFiles{ReplacedBy: "other"}))
	assert.Equal(t, domain.LifecycleStopped, domain.DeriveLifecycleState(domain.AgentFiles{}))
}
