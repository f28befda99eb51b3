package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"muster/internal/agentiface"
	"muster/internal/concurrency"
	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/hostiface"
	"muster/internal/provider"
	"muster/pkg/logging"
)

const subsystem = "Fleet"

// AgentView is the read-only view of one agent the pipeline fans out, ahead
// of being flattened into CriteriaAgent / cli.AgentRow.
type AgentView struct {
	Id          domain.AgentId
	Name        domain.AgentName
	Type        domain.AgentTypeName
	State       domain.LifecycleState
	CreateTime  time.Time
	IdleSeconds float64
	Agent       *agentiface.Agent
}

// HostView is the read-only view of one host the pipeline fans out.
type HostView struct {
	Id       domain.HostId
	Name     domain.HostName
	Tags     map[string]string
	State    domain.HostState
	Provider domain.ProviderInstanceName
	Host     *hostiface.Host
}

// AggregatedHost groups a host with the agents living on it, the unit
// §4.12's "host grouping" operates on: cleanup/start/stop issue at most one
// provider call per (host, action) pair.
type AggregatedHost struct {
	Host    HostView
	Agents  []AgentView
	Backend provider.Provider
}

// Failure is one named item's per-operation error, carried alongside
// whatever else succeeded (§4.12 "partial failure").
type Failure struct {
	Name    string
	Message string
}

// ListOptions configures ListAgents.
type ListOptions struct {
	Include       []string
	Exclude       []string
	ErrorBehavior domain.ErrorBehavior
}

// ListResult is ListAgents' aggregated output.
type ListResult struct {
	Hosts  []AggregatedHost
	Errors []errs.ProviderError
}

// Pipeline fans a command out across every configured provider and drives
// the listing/cleanup/start/stop/exec/message/rename/enforce operations of
// §4.12. It holds no state of its own beyond the set of providers it was
// built with; everything durable lives behind each provider.
type Pipeline struct {
	providers []provider.Provider
}

// New builds a Pipeline over the given providers, e.g. every configured
// provider instance or the subset named by `--provider`.
func New(providers []provider.Provider) *Pipeline {
	return &Pipeline{providers: providers}
}

// ListAgents fans out across every provider in its own goroutine within cg
// (§4.12), collects (host, agents) pairs, and applies the include/exclude
// filter expressions. Under ErrorBehaviorAbort the first provider error
// aborts the whole fan-out; under CONTINUE every provider's failure is
// recorded in Errors and listing proceeds with whatever succeeded.
func (p *Pipeline) ListAgents(ctx context.Context, cg *concurrency.Group, opts ListOptions) (ListResult, error) {
	include, err := CompileAll(opts.Include)
	if err != nil {
		return ListResult{}, err
	}
	exclude, err := CompileAll(opts.Exclude)
	if err != nil {
		return ListResult{}, err
	}

	type perProvider struct {
		hosts []AggregatedHost
		err   *errs.ProviderError
	}

	results := make([]perProvider, len(p.providers))
	var wg sync.WaitGroup
	now := time.Now()

	for i, prov := range p.providers {
		wg.Add(1)
		go func(i int, prov provider.Provider) {
			defer wg.Done()
			hosts, err := p.listProviderHosts(ctx, cg, prov, include, exclude, now)
			if err != nil {
				results[i] = perProvider{err: &errs.ProviderError{Provider: string(prov.InstanceName()), Reason: err}}
				return
			}
			results[i] = perProvider{hosts: hosts}
		}(i, prov)
	}
	wg.Wait()

	var out ListResult
	for _, r := range results {
		if r.err != nil {
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return ListResult{}, r.err
			}
			out.Errors = append(out.Errors, *r.err)
			continue
		}
		out.Hosts = append(out.Hosts, r.hosts...)
	}
	return out, nil
}

func (p *Pipeline) listProviderHosts(ctx context.Context, cg *concurrency.Group, prov provider.Provider, include, exclude []*Filter, now time.Time) ([]AggregatedHost, error) {
	hosts, err := prov.ListHosts(ctx, cg, false)
	if err != nil {
		return nil, err
	}

	var out []AggregatedHost
	for _, h := range hosts {
		hostImpl, ok := h.(*hostiface.Host)
		if !ok {
			continue
		}
		hv := HostView{
			Id:       h.Id(),
			Name:     h.Name(),
			Tags:     h.CertifiedData().UserTags,
			State:    h.State(),
			Provider: prov.InstanceName(),
			Host:     hostImpl,
		}
		agents, err := hostImpl.GetAgents()
		if err != nil {
			return nil, err
		}

		var views []AgentView
		for _, a := range agents {
			sessionExists := h.State() == domain.HostRunning
			state := a.State(sessionExists, h.State() != domain.HostRunning)
			idle, _ := a.IdleSeconds(now)
			av := AgentView{
				Id:          a.Id(),
				Name:        a.Name(),
				Type:        a.Type(),
				State:       state,
				CreateTime:  a.Record().CreateTime,
				IdleSeconds: idle,
				Agent:       a,
			}
			crit := BuildCriteria(av, hv, string(prov.InstanceName()), now)
			matched, err := MatchesAll(crit, include, exclude)
			if err != nil {
				return nil, err
			}
			if matched {
				views = append(views, av)
			}
		}
		out = append(out, AggregatedHost{Host: hv, Agents: views, Backend: prov})
	}
	return out, nil
}

// selectIds is a helper most per-host operations share: select the
// AggregatedHost entries and agent ids the caller asked for.
func selectIds(hosts []AggregatedHost, ids map[domain.AgentId]bool, all bool, stateFilter func(domain.LifecycleState) bool) []AggregatedHost {
	var out []AggregatedHost
	for _, h := range hosts {
		var matched []AgentView
		for _, a := range h.Agents {
			if !all && !ids[a.Id] {
				continue
			}
			if stateFilter != nil && !stateFilter(a.State) {
				continue
			}
			matched = append(matched, a)
		}
		if len(matched) > 0 {
			out = append(out, AggregatedHost{Host: h.Host, Agents: matched, Backend: h.Backend})
		}
	}
	return out
}

// OpResult is the structured, never-aborting-under-CONTINUE result shape
// every mutating fleet operation returns (§4.12 "Partial failure").
type OpResult struct {
	Successful []string
	Failed     []Failure
}

func (r *OpResult) addSuccess(name string) { r.Successful = append(r.Successful, name) }
func (r *OpResult) addFailure(name string, err error) {
	r.Failed = append(r.Failed, Failure{Name: name, Message: err.Error()})
}

// StartAgentsOptions configures StartAgents.
type StartAgentsOptions struct {
	Ids           []domain.AgentId
	All           bool
	Connect       bool
	ErrorBehavior domain.ErrorBehavior
}

// StartAgents groups the requested agents by host, ensures each host is
// started, then issues one start_agents call per host (§4.12). When
// opts.Connect is set, each started agent's resume_message (if any) is sent
// in the background after the record's MessageDelaySeconds; start_on_boot is
// not consulted.
func (p *Pipeline) StartAgents(ctx context.Context, cg *concurrency.Group, opts StartAgentsOptions) (OpResult, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return OpResult{}, err
	}

	idSet := make(map[domain.AgentId]bool, len(opts.Ids))
	for _, id := range opts.Ids {
		idSet[id] = true
	}
	stopped := func(s domain.LifecycleState) bool { return s == domain.LifecycleStopped }
	groups := selectIds(listed.Hosts, idSet, opts.All, stopped)

	var result OpResult
	for _, g := range groups {
		online, err := ensureHostStarted(ctx, g)
		if err != nil {
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), err)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, err
			}
			continue
		}

		ids := make([]domain.AgentId, 0, len(g.Agents))
		for _, a := range g.Agents {
			ids = append(ids, a.Id)
		}
		if err := online.StartAgents(ctx, ids); err != nil {
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), err)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, err
			}
			continue
		}
		for _, a := range g.Agents {
			result.addSuccess(string(a.Name))
			if opts.Connect {
				go sendResumeMessage(ctx, online, a)
			}
		}
	}
	return result, nil
}

func sendResumeMessage(ctx context.Context, online *hostiface.Host, a AgentView) {
	rec := a.Agent.Record()
	if rec.ResumeMessage == nil {
		return
	}
	delay := time.Duration(rec.MessageDelaySeconds) * time.Second
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	conn, err := online.Connector()
	if err != nil {
		return
	}
	if err := a.Agent.SendMessage(ctx, conn, *rec.ResumeMessage); err != nil {
		logging.Warn(subsystem, "resume message to %s failed: %v", a.Name, err)
	}
}

// ensureHostStarted starts a stopped host before an operation that needs it
// reachable, mirroring §4.12's `is_start_desired` handling of
// HostNotRunningError.
func ensureHostStarted(ctx context.Context, g AggregatedHost) (*hostiface.Host, error) {
	if g.Host.State == domain.HostRunning {
		return g.Host.Host, nil
	}
	if g.Host.State != domain.HostStopped {
		return nil, &errs.HostNotRunningError{HostName: string(g.Host.Name)}
	}
	online, err := g.Backend.StartHost(ctx, provider.HostRef{Id: g.Host.Id}, nil)
	if err != nil {
		return nil, err
	}
	hostImpl, ok := online.(*hostiface.Host)
	if !ok {
		return nil, fmt.Errorf("provider %q returned an unexpected host type", g.Backend.InstanceName())
	}
	return hostImpl, nil
}

// StopAgentsOptions configures StopAgents.
type StopAgentsOptions struct {
	Ids           []domain.AgentId
	All           bool
	ErrorBehavior domain.ErrorBehavior
}

// StopAgents is the symmetric counterpart to StartAgents; an offline host
// fails the affected agents with a recoverable error rather than aborting
// under CONTINUE (§4.12).
func (p *Pipeline) StopAgents(ctx context.Context, cg *concurrency.Group, opts StopAgentsOptions) (OpResult, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return OpResult{}, err
	}

	idSet := make(map[domain.AgentId]bool, len(opts.Ids))
	for _, id := range opts.Ids {
		idSet[id] = true
	}
	running := func(s domain.LifecycleState) bool { return s == domain.LifecycleRunning }
	groups := selectIds(listed.Hosts, idSet, opts.All, running)

	var result OpResult
	for _, g := range groups {
		if g.Host.State != domain.HostRunning {
			err := &errs.HostOfflineError{HostName: string(g.Host.Name)}
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), err)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, err
			}
			continue
		}
		ids := make([]domain.AgentId, 0, len(g.Agents))
		for _, a := range g.Agents {
			ids = append(ids, a.Id)
		}
		if err := g.Host.Host.StopAgents(ctx, ids); err != nil {
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), err)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, err
			}
			continue
		}
		for _, a := range g.Agents {
			result.addSuccess(string(a.Name))
		}
	}
	return result, nil
}

// CleanupOptions configures Cleanup.
type CleanupOptions struct {
	Include       []string
	Exclude       []string
	Action        domain.CleanupAction
	DryRun        bool
	ErrorBehavior domain.ErrorBehavior
}

// Cleanup lists, groups by host, and either destroys or stops every matched
// agent, issuing at most one provider call per (host, action) pair (§4.12,
// §8 "Host grouping"). After a DESTROY pass it runs the GC pass (gc.go).
func (p *Pipeline) Cleanup(ctx context.Context, cg *concurrency.Group, opts CleanupOptions) (OpResult, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{Include: opts.Include, Exclude: opts.Exclude, ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return OpResult{}, err
	}

	var result OpResult
	for _, g := range listed.Hosts {
		if len(g.Agents) == 0 {
			continue
		}
		if opts.DryRun {
			for _, a := range g.Agents {
				result.addSuccess(string(a.Name))
			}
			continue
		}
		if g.Host.State != domain.HostRunning {
			err := &errs.HostOfflineError{HostName: string(g.Host.Name)}
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), err)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, err
			}
			continue
		}

		ids := make([]domain.AgentId, 0, len(g.Agents))
		for _, a := range g.Agents {
			ids = append(ids, a.Id)
		}

		var opErr error
		switch opts.Action {
		case domain.CleanupActionStop:
			opErr = g.Host.Host.StopAgents(ctx, ids)
		default:
			for _, a := range g.Agents {
				if e := g.Host.Host.DestroyAgent(ctx, a.Agent); e != nil {
					opErr = e
					break
				}
			}
		}
		if opErr != nil {
			for _, a := range g.Agents {
				result.addFailure(string(a.Name), opErr)
			}
			if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
				return result, opErr
			}
			continue
		}
		for _, a := range g.Agents {
			result.addSuccess(string(a.Name))
		}
	}

	if !opts.DryRun && opts.Action == domain.CleanupActionDestroy {
		p.gc(ctx, cg)
	}
	return result, nil
}

// ExecOptions configures ExecCommandOnAgents.
type ExecOptions struct {
	Ids           []domain.AgentId
	All           bool
	Command       string
	User          string
	Cwd           string
	Timeout       time.Duration
	IsStartDesired bool
	ErrorBehavior domain.ErrorBehavior
}

// ExecResult is one agent's command outcome.
type ExecResult struct {
	Name   string
	Result hostiface.CommandResult
}

// ExecCommandOnAgents runs command under each agent's work_dir (or an
// explicit Cwd) on its host (§4.12). Like start_agents, it will bring a
// stopped host up first when IsStartDesired is set.
func (p *Pipeline) ExecCommandOnAgents(ctx context.Context, cg *concurrency.Group, opts ExecOptions) ([]ExecResult, OpResult, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return nil, OpResult{}, err
	}

	idSet := make(map[domain.AgentId]bool, len(opts.Ids))
	for _, id := range opts.Ids {
		idSet[id] = true
	}
	groups := selectIds(listed.Hosts, idSet, opts.All, nil)

	var results []ExecResult
	var opResult OpResult
	for _, g := range groups {
		online := g.Host.Host
		if g.Host.State != domain.HostRunning {
			if !opts.IsStartDesired {
				err := &errs.HostOfflineError{HostName: string(g.Host.Name)}
				for _, a := range g.Agents {
					opResult.addFailure(string(a.Name), err)
				}
				continue
			}
			online, err = ensureHostStarted(ctx, g)
			if err != nil {
				for _, a := range g.Agents {
					opResult.addFailure(string(a.Name), err)
				}
				continue
			}
		}

		for _, a := range g.Agents {
			cwd := opts.Cwd
			if cwd == "" {
				cwd = a.Agent.WorkDir()
			}
			res, err := online.ExecuteCommand(ctx, opts.Command, hostiface.ExecuteOptions{User: opts.User, Cwd: cwd, Timeout: opts.Timeout})
			if err != nil {
				opResult.addFailure(string(a.Name), err)
				if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
					return results, opResult, err
				}
				continue
			}
			opResult.addSuccess(string(a.Name))
			results = append(results, ExecResult{Name: string(a.Name), Result: res})
		}
	}
	return results, opResult, nil
}

// SendMessageOptions configures SendMessageToAgents.
type SendMessageOptions struct {
	Ids           []domain.AgentId
	All           bool
	Content       string
	ErrorBehavior domain.ErrorBehavior
}

// SendMessageToAgents iterates the matched agents and calls
// agent.send_message; agents that are STOPPED fail per-agent (§4.12).
func (p *Pipeline) SendMessageToAgents(ctx context.Context, cg *concurrency.Group, opts SendMessageOptions) (OpResult, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return OpResult{}, err
	}
	idSet := make(map[domain.AgentId]bool, len(opts.Ids))
	for _, id := range opts.Ids {
		idSet[id] = true
	}
	groups := selectIds(listed.Hosts, idSet, opts.All, nil)

	var result OpResult
	for _, g := range groups {
		for _, a := range g.Agents {
			if a.State == domain.LifecycleStopped {
				err := &errs.UserInputError{Message: fmt.Sprintf("agent %q is stopped", a.Name), Hint: "start it first"}
				result.addFailure(string(a.Name), err)
				continue
			}
			conn, err := g.Host.Host.Connector()
			if err != nil {
				result.addFailure(string(a.Name), err)
				if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
					return result, err
				}
				continue
			}
			if err := a.Agent.SendMessage(ctx, conn, opts.Content); err != nil {
				result.addFailure(string(a.Name), err)
				if opts.ErrorBehavior == domain.ErrorBehaviorAbort {
					return result, err
				}
				continue
			}
			result.addSuccess(string(a.Name))
		}
	}
	return result, nil
}

// Rename performs the single-agent rename described in §4.9: it locates the
// agent across every provider, then delegates to hostiface.RenameAgent for
// the two-step, crash-safe record+session rename.
func (p *Pipeline) Rename(ctx context.Context, cg *concurrency.Group, current domain.AgentName, newName domain.AgentName) (*agentiface.Agent, error) {
	listed, err := p.ListAgents(ctx, cg, ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return nil, err
	}
	for _, g := range listed.Hosts {
		for _, a := range g.Agents {
			if a.Name != current {
				continue
			}
			for _, other := range g.Agents {
				if other.Name == newName && other.Id != a.Id {
					return nil, &errs.UserInputError{Message: fmt.Sprintf("agent name %q already in use on this host", newName)}
				}
			}
			return g.Host.Host.RenameAgent(ctx, a.Id, newName)
		}
	}
	return nil, fmt.Errorf("no agent named %q found", current)
}
