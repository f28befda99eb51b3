package agentiface

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
	"muster/internal/store"
)

func newTestRoot(t *testing.T) *store.Root {
	return &store.Root{BaseDir: t.TempDir(), SessionPrefix: "mngr-"}
}

func newRegistry() *domain.AgentTypeRegistry {
	r := domain.NewAgentTypeRegistry()
	r.Register(domain.AgentTypeConfig{Name: "base", Command: "claude", CliArgs: []string{"--base-flag"}})
	r.Register(domain.AgentTypeConfig{Name: "coder", ParentType: "base", CliArgs: []string{"--coder-flag"}})
	return r
}

func TestAssembleCommandResolvesParentChain(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "coder", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))

	a := New(rec, agentStore, "mngr-a1", newRegistry())
	cmd, err := a.AssembleCommand([]string{"--extra"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude '--base-flag' '--coder-flag' '--extra'", cmd)
}

func TestAssembleCommandOverrideReplacesBase(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "coder", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))

	a := New(rec, agentStore, "mngr-a1", newRegistry())
	override := domain.CommandString("echo hi")
	cmd, err := a.AssembleCommand(nil, &override)
	require.NoError(t, err)
	assert.Equal(t, "echo hi", cmd)
}

func TestAssembleCommandRendersSprigTemplate(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	registry := domain.NewAgentTypeRegistry()
	registry.Register(domain.AgentTypeConfig{Name: "templated", Command: "claude", CliArgs: []string{"--workdir={{ .WorkDir }}", "--name={{ .Name | upper }}"}})
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "templated", HostId: "h1", WorkDir: "/work/a1"}
	require.NoError(t, agentStore.Create(rec))

	a := New(rec, agentStore, "mngr-a1", registry)
	cmd, err := a.AssembleCommand(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude '--workdir=/work/a1' '--name=A1'", cmd)
}

func TestAssembleCommandUnknownTypeFails(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "ghost", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))

	a := New(rec, agentStore, "mngr-a1", newRegistry())
	_, err := a.AssembleCommand(nil, nil)
	require.Error(t, err)
	var cfgErr *domain.ConfigParseError
	assert.ErrorAs(t, err, &cfgErr)
}

type fakeConnector struct {
	calls   []string
	failN   int
	callNum int
}

func (f *fakeConnector) RunShell(ctx context.Context, command string) (string, error) {
	f.calls = append(f.calls, command)
	f.callNum++
	if f.callNum <= f.failN {
		return "", errors.New("transient")
	}
	return "", nil
}

func TestSendMessageRetriesOnce(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "coder", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))
	a := New(rec, agentStore, "mngr-a1", newRegistry())

	conn := &fakeConnector{failN: 1}
	err := a.SendMessage(context.Background(), conn, "hello\nworld")
	require.NoError(t, err)
	assert.Len(t, conn.calls, 2)
}

func TestSendMessagePreservesNewlinesAsOneArg(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "coder", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))
	a := New(rec, agentStore, "mngr-a1", newRegistry())

	conn := &fakeConnector{}
	require.NoError(t, a.SendMessage(context.Background(), conn, "hello\nworld"))
	assert.Contains(t, conn.calls[0], "hello\nworld")
}

func TestStateReflectsWaitingMarker(t *testing.T) {
	root := newTestRoot(t)
	agentStore := store.NewAgentStore(root)
	rec := domain.AgentRecord{Id: domain.NewAgentId(), Name: "a1", Type: "coder", HostId: "h1"}
	require.NoError(t, agentStore.Create(rec))
	a := New(rec, agentStore, "mngr-a1", newRegistry())

	assert.Equal(t, domain.LifecycleStopped, a.State(false, false))
	assert.Equal(t, domain.LifecycleRunning, a.State(true, false))
	assert.Equal(t, domain.LifecycleStopped, a.State(true, true))

	reportedDir := agentStore.ReportedDir(rec.HostId, rec.Id)
	require.NoError(t, os.MkdirAll(reportedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(reportedDir, "waiting_for_input"), nil, 0o644))
	assert.Equal(t, domain.LifecycleWaiting, a.State(true, false))
}
