// Package hostiface implements C7, the per-host operations layered over a
// host's durable record: executing commands, managing agent work
// directories and durable state, and the tmux-session lifecycle
// (start/stop/destroy/rename) that backs every agent living on the host.
package hostiface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"muster/internal/agentiface"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/provider"
	"muster/internal/store"
)

// CommandResult is the outcome of ExecuteCommand.
type CommandResult struct {
	Stdout     string
	ReturnCode int
	Success    bool
}

// Host wraps a HostRecord with the stores and, when the host is reachable,
// the connector needed to run commands against it. A Host built without a
// connector still answers every read-only HostInterface operation (§4.8);
// every mutating or command-executing operation requires one and fails with
// HostOfflineError otherwise.
type Host struct {
	rec        domain.HostRecord
	state      domain.HostState
	hostStore  *store.HostStore
	agentStore *store.AgentStore
	root       *store.Root
	registry   *domain.AgentTypeRegistry
	connector  provider.Connector
}

// New builds a Host. connector may be nil for an offline or not-yet-started
// host.
func New(rec domain.HostRecord, state domain.HostState, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry, connector provider.Connector) *Host {
	return &Host{rec: rec, state: state, hostStore: hostStore, agentStore: agentStore, root: root, registry: registry, connector: connector}
}

func (h *Host) Name() domain.HostName                   { return h.rec.HostName }
func (h *Host) Id() domain.HostId                       { return h.rec.HostId }
func (h *Host) CertifiedData() domain.CertifiedHostData { return h.rec.CertifiedHostData }
func (h *Host) State() domain.HostState                 { return h.state }
func (h *Host) Record() domain.HostRecord               { return h.rec }

// Connector satisfies provider.OnlineHost; it fails with HostOfflineError
// when this Host was built without one.
func (h *Host) Connector() (provider.Connector, error) {
	if h.connector == nil {
		return nil, &errs.HostOfflineError{HostName: string(h.rec.HostName)}
	}
	return h.connector, nil
}

// GetAgents lists every agent registered on this host, wrapped for use by
// the fleet pipeline and CLI layer. This is the offline-safe form: it reads
// the durable volume directly rather than querying the host's live process
// list, so it works whether or not the host is reachable (§4.8).
func (h *Host) GetAgents() ([]*agentiface.Agent, error) {
	recs, err := h.agentStore.List(h.rec.HostId)
	if err != nil {
		return nil, err
	}
	out := make([]*agentiface.Agent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, agentiface.New(rec, h.agentStore, h.root.SessionName(rec.Name), h.registry))
	}
	return out, nil
}

// ExecuteOptions configures ExecuteCommand.
type ExecuteOptions struct {
	User    string
	Cwd     string
	Timeout time.Duration
}

// ExecuteCommand runs cmdline through the host's connector, optionally
// changing directory and/or running as another user first (§4.8). Both the
// user-exec CLI command and every internal control operation that needs to
// run something on the host go through this one path.
func (h *Host) ExecuteCommand(ctx context.Context, cmdline string, opts ExecuteOptions) (CommandResult, error) {
	conn, err := h.Connector()
	if err != nil {
		return CommandResult{}, err
	}

	full := cmdline
	if opts.Cwd != "" {
		full = fmt.Sprintf("cd %s && %s", shQuote(opts.Cwd), full)
	}
	if opts.User != "" {
		full = fmt.Sprintf("sudo -u %s -- sh -c %s", opts.User, shQuote(full))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	out, runErr := conn.RunShell(ctx, full)
	result := CommandResult{Stdout: out, Success: runErr == nil}
	if runErr != nil {
		return result, runErr
	}
	result.ReturnCode = 0
	return result, nil
}

// CreateAgentWorkDir copies source into a new work directory under the host
// for the named agent and returns its path. The copy strategy is chosen per
// opts; when unset it defaults to rsync, the strategy every provider's
// connector can execute without extra tooling. `.git` is excluded from the
// copy unless opts.IncludeGit is set (§4.8).
func (h *Host) CreateAgentWorkDir(ctx context.Context, source domain.SourceLocation, agentName domain.AgentName, opts domain.WorkDirOptions) (string, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = domain.CopyStrategyRsync
	}

	destDir := fmt.Sprintf("~/mngr-work/%s", agentName)
	var cmd string
	switch strategy {
	case domain.CopyStrategyInPlace:
		return source.Path, nil
	case domain.CopyStrategyRsync, domain.CopyStrategyFullCopy:
		excludeGit := ""
		if !opts.IncludeGit {
			excludeGit = "--exclude=.git "
		}
		cmd = fmt.Sprintf("mkdir -p %s && rsync -a %s%s/ %s/", shQuote(destDir), excludeGit, shQuote(source.Path), shQuote(destDir))
	case domain.CopyStrategyClone:
		cmd = fmt.Sprintf("git clone %s %s", shQuote(source.Path), shQuote(destDir))
	case domain.CopyStrategyWorktree:
		branch := opts.BranchName
		if branch == "" {
			branch = string(agentName)
		}
		cmd = fmt.Sprintf("git -C %s worktree add %s %s", shQuote(source.Path), shQuote(destDir), shQuote(branch))
	default:
		return "", fmt.Errorf("unknown work dir copy strategy %q", strategy)
	}

	if _, err := h.ExecuteCommand(ctx, cmd, ExecuteOptions{}); err != nil {
		return "", err
	}
	return destDir, nil
}

// CreateAgentState registers a brand-new agent's durable record. Fails with
// store.AgentNameConflictError if the name is already in use on this host
// (§4.8).
func (h *Host) CreateAgentState(rec domain.AgentRecord) (*agentiface.Agent, error) {
	rec.HostId = h.rec.HostId
	if err := h.agentStore.Create(rec); err != nil {
		return nil, err
	}
	return agentiface.New(rec, h.agentStore, h.root.SessionName(rec.Name), h.registry), nil
}

// StartAgents launches a tmux session per id running the agent's assembled
// command in its work dir. It sends no message to the agent and does not
// check whether a session for the id is already running.
func (h *Host) StartAgents(ctx context.Context, ids []domain.AgentId) error {
	for _, id := range ids {
		rec, err := h.agentStore.Load(h.rec.HostId, id)
		if err != nil {
			return err
		}
		a := agentiface.New(rec, h.agentStore, h.root.SessionName(rec.Name), h.registry)
		cmd, err := a.AssembleCommand(nil, nil)
		if err != nil {
			return err
		}
		startCmd := fmt.Sprintf("tmux new-session -d -s %s %s", shQuote(a.SessionName()), shQuote(cmd))
		if _, err := h.ExecuteCommand(ctx, startCmd, ExecuteOptions{Cwd: rec.WorkDir}); err != nil {
			return err
		}
	}
	return nil
}

// StopAgents kills the tmux session for each id; a session that's already
// gone is treated as already-stopped rather than an error.
func (h *Host) StopAgents(ctx context.Context, ids []domain.AgentId) error {
	for _, id := range ids {
		rec, err := h.agentStore.Load(h.rec.HostId, id)
		if err != nil {
			return err
		}
		session := h.root.SessionName(rec.Name)
		stopCmd := fmt.Sprintf("tmux kill-session -t %s 2>/dev/null; true", shQuote(session))
		if _, err := h.ExecuteCommand(ctx, stopCmd, ExecuteOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// DestroyAgent kills its session (if any) and removes its durable record.
func (h *Host) DestroyAgent(ctx context.Context, a *agentiface.Agent) error {
	if h.connector != nil {
		_ = h.StopAgents(ctx, []domain.AgentId{a.Id()})
	}
	return h.agentStore.Delete(h.rec.HostId, a.Id())
}

// RenameAgent performs the two-step, crash-safe rename of §4.9: the durable
// record first, then the tmux session, tolerating a session that's already
// been renamed by a prior, interrupted attempt.
func (h *Host) RenameAgent(ctx context.Context, id domain.AgentId, newName domain.AgentName) (*agentiface.Agent, error) {
	oldRec, err := h.agentStore.Load(h.rec.HostId, id)
	if err != nil {
		return nil, err
	}
	if oldRec.Name == newName {
		return agentiface.New(oldRec, h.agentStore, h.root.SessionName(oldRec.Name), h.registry), nil
	}
	oldSession := h.root.SessionName(oldRec.Name)
	newSession := h.root.SessionName(newName)

	rec, err := h.agentStore.Rename(h.rec.HostId, id, newName)
	if err != nil {
		return nil, err
	}

	if h.connector != nil {
		renameCmd := fmt.Sprintf(
			"if tmux has-session -t %s 2>/dev/null; then tmux rename-session -t %s %s; fi",
			shQuote(oldSession), shQuote(oldSession), shQuote(newSession),
		)
		if _, err := h.ExecuteCommand(ctx, renameCmd, ExecuteOptions{}); err != nil {
			return nil, err
		}
	}

	return agentiface.New(rec, h.agentStore, newSession, h.registry), nil
}

// SetEnvVars rewrites the host's env file (§4.8).
func (h *Host) SetEnvVars(env map[string]string) error {
	return h.hostStore.SetEnvVars(h.rec.HostId, env)
}

// LockCooperatively acquires the per-host advisory lock described in §4.5,
// scoped to the caller's deadline (zero blocks indefinitely).
func (h *Host) LockCooperatively(deadline time.Duration) (*store.HostLock, error) {
	return h.hostStore.Lock(h.rec.HostId, deadline)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
