// Package fleet implements C12, the pipeline that fans a command out across
// every selected provider, aggregates agents by host, and drives the
// listing/cleanup/start/stop/exec/message/rename/enforce operations on top
// of the provider contract (internal/provider), the host interface
// (internal/hostiface), and the agent interface (internal/agentiface).
package fleet

import (
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"muster/internal/errs"
)

// CriteriaHost is the host-shaped view a filter expression sees as `host`.
type CriteriaHost struct {
	Id       string            `expr:"id"`
	Name     string            `expr:"name"`
	Provider string            `expr:"provider"`
	Tags     map[string]string `expr:"tags"`
}

// CriteriaAgent is the flattened shape §4.12's filter expression language
// evaluates against: `{id, name, type, state, host.{id,name,provider,tags},
// age, idle}`. Age and idle are both expressed in seconds so expressions can
// compare them against plain numbers (e.g. `idle > 3600`).
type CriteriaAgent struct {
	Id    string        `expr:"id"`
	Name  string        `expr:"name"`
	Type  string         `expr:"type"`
	State string         `expr:"state"`
	Host  CriteriaHost   `expr:"host"`
	Age   float64        `expr:"age"`
	Idle  float64        `expr:"idle"`
}

// BuildCriteria flattens an agent, its owning host, and the clock into the
// shape filter expressions are evaluated against.
func BuildCriteria(a AgentView, h HostView, providerName string, now time.Time) CriteriaAgent {
	return CriteriaAgent{
		Id:    string(a.Id),
		Name:  string(a.Name),
		Type:  string(a.Type),
		State: string(a.State),
		Host: CriteriaHost{
			Id:       string(h.Id),
			Name:     string(h.Name),
			Provider: providerName,
			Tags:     h.Tags,
		},
		Age:  now.Sub(a.CreateTime).Seconds(),
		Idle: a.IdleSeconds,
	}
}

// Filter is a compiled include/exclude expression, per §4.12.
type Filter struct {
	program *vm.Program
}

// CompileFilter compiles one expression string against the CriteriaAgent
// environment. An empty expression compiles to a filter that always
// matches, so empty include/exclude lists need no special-casing by
// callers.
func CompileFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(CriteriaAgent{}), expr.AsBool())
	if err != nil {
		return nil, &errs.FilterParseError{Expression: expression, Reason: err.Error()}
	}
	return &Filter{program: program}, nil
}

// Matches evaluates the filter against one agent's criteria. A nil filter
// (the empty-expression case) always matches.
func (f *Filter) Matches(c CriteriaAgent) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, c)
	if err != nil {
		return false, err
	}
	matched, _ := out.(bool)
	return matched, nil
}

// MatchesAll applies an include list (all must match; empty list matches
// everything) and an exclude list (any match excludes).
func MatchesAll(c CriteriaAgent, include, exclude []*Filter) (bool, error) {
	for _, f := range include {
		ok, err := f.Matches(c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, f := range exclude {
		ok, err := f.Matches(c)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

// CompileAll compiles a set of expressions, skipping empty ones.
func CompileAll(expressions []string) ([]*Filter, error) {
	var out []*Filter
	for _, e := range expressions {
		f, err := CompileFilter(e)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}
