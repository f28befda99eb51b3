// Package agentiface implements C6, the per-agent operations layered over
// the durable record in internal/store: assembling the agent-type command
// line, sending a message to its multiplexer window, recording activity, and
// exposing the reported fields the agent's own process writes.
package agentiface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"muster/internal/domain"
	"muster/internal/store"
)

// Connector is the subset of a provider's connector an agent needs to reach
// its multiplexer window; local and SSH providers each supply one.
type Connector interface {
	RunShell(ctx context.Context, command string) (stdout string, err error)
}

// Agent wraps one AgentRecord with the store and agent-type registry needed
// to act on it.
type Agent struct {
	rec         domain.AgentRecord
	store       *store.AgentStore
	sessionName string
	registry    *domain.AgentTypeRegistry
}

// New wraps rec for use by the fleet pipeline and CLI layer. sessionName is
// the tmux session name the record's host assigns it (Root.SessionName).
func New(rec domain.AgentRecord, agentStore *store.AgentStore, sessionName string, registry *domain.AgentTypeRegistry) *Agent {
	return &Agent{rec: rec, store: agentStore, sessionName: sessionName, registry: registry}
}

func (a *Agent) Id() domain.AgentId         { return a.rec.Id }
func (a *Agent) Name() domain.AgentName     { return a.rec.Name }
func (a *Agent) Type() domain.AgentTypeName { return a.rec.Type }
func (a *Agent) HostId() domain.HostId      { return a.rec.HostId }
func (a *Agent) Record() domain.AgentRecord { return a.rec }
func (a *Agent) SessionName() string        { return a.sessionName }
func (a *Agent) WorkDir() string            { return a.rec.WorkDir }

// State derives the agent's lifecycle state (§4.6) from whether its
// multiplexer session currently exists and whether its host is reachable;
// the reported markers are read fresh from disk so a caller never has to
// reload the record just to get an up to date state.
func (a *Agent) State(sessionExists, hostOffline bool) domain.LifecycleState {
	files := domain.AgentFiles{
		SessionExists:        sessionExists,
		HostOffline:          hostOffline,
		WaitingMarkerPresent: a.store.HasWaitingMarker(a.rec.HostId, a.rec.Id),
		DoneMarkerPresent:    a.store.HasDoneMarker(a.rec.HostId, a.rec.Id),
	}
	return domain.DeriveLifecycleState(files)
}

// AssembleCommand returns the shell string to run inside the tmux window
// (§4.14). override, when non-nil, replaces the base command outright;
// otherwise the base command comes from resolving the agent's type through
// the registry's parent_type chain, and extraArgs is appended after the
// type's own cli_args and the record's per-agent cli_args. The base command
// and every arg are first expanded as Sprig-enabled Go templates (see
// template.go) against this agent's identity and work dir, so an agent-type
// configuration document can reference `{{ .WorkDir }}` etc. instead of the
// manager substituting fields itself.
func (a *Agent) AssembleCommand(extraArgs []string, override *domain.CommandString) (string, error) {
	vars := commandTemplateVars{
		Name:    string(a.rec.Name),
		Type:    string(a.rec.Type),
		WorkDir: a.rec.WorkDir,
		HostId:  string(a.rec.HostId),
	}

	if override != nil {
		return a.renderCommandLine(string(*override), extraArgs, vars)
	}

	cfg, err := a.registry.Resolve(a.rec.Type)
	if err != nil {
		return "", err
	}

	base := string(cfg.Command)
	if a.rec.Command != "" {
		base = string(a.rec.Command)
	}

	args := make([]string, 0, len(cfg.CliArgs)+len(a.rec.CliArgs)+len(extraArgs))
	args = append(args, cfg.CliArgs...)
	args = append(args, a.rec.CliArgs...)
	args = append(args, extraArgs...)
	return a.renderCommandLine(base, args, vars)
}

func (a *Agent) renderCommandLine(base string, args []string, vars commandTemplateVars) (string, error) {
	renderedBase, err := renderCommandTemplate(base, vars)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.rec.Name, err)
	}
	renderedArgs := make([]string, len(args))
	for i, arg := range args {
		renderedArgs[i], err = renderCommandTemplate(arg, vars)
		if err != nil {
			return "", fmt.Errorf("agent %s: %w", a.rec.Name, err)
		}
	}
	return buildCommandLine(renderedBase, renderedArgs), nil
}

func buildCommandLine(base string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, base)
	for _, a := range args {
		parts = append(parts, shQuote(a))
	}
	return strings.Join(parts, " ")
}

// SendMessage writes text to the agent's primary tmux window via
// send-keys, retried once on transient failure (§4.14). The text is
// delivered as one literal argument so embedded newlines are preserved
// rather than interpreted as separate keystrokes.
func (a *Agent) SendMessage(ctx context.Context, conn Connector, text string) error {
	cmd := buildSendKeysCommand(a.sessionName, text)
	if _, err := conn.RunShell(ctx, cmd); err != nil {
		_, err = conn.RunShell(ctx, cmd)
		return err
	}
	return nil
}

func buildSendKeysCommand(session, text string) string {
	return fmt.Sprintf("tmux send-keys -t %s -l %s && tmux send-keys -t %s Enter", shQuote(session), shQuote(text), shQuote(session))
}

// Reported reads the fields the agent's own process writes under
// reported/ (§4.14: the manager only ever reads these).
func (a *Agent) Reported() (domain.ReportedFields, error) {
	return a.store.LoadReported(a.rec.HostId, a.rec.Id)
}

// TouchActivity records an activity signal for source, feeding §4.13 idle
// detection.
func (a *Agent) TouchActivity(source domain.ActivitySource) error {
	return a.store.TouchActivity(a.rec.HostId, a.rec.Id, source)
}

// ActivityMtimes returns the mtimes of every activity file this agent has
// recorded.
func (a *Agent) ActivityMtimes() ([]time.Time, error) {
	return a.store.ActivityMtimes(a.rec.HostId, a.rec.Id)
}

// IdleSeconds reports how long this agent has been idle relative to now.
func (a *Agent) IdleSeconds(now time.Time) (float64, error) {
	mtimes, err := a.ActivityMtimes()
	if err != nil {
		return 0, err
	}
	return domain.ComputeIdleSeconds(now, mtimes), nil
}

// shQuote single-quotes s for safe inclusion in a POSIX shell command line,
// escaping embedded single quotes the standard '"'"' way.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
