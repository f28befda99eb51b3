package domain

import "fmt"

// AgentTypeConfig is the resolved, flattened configuration for one agent
// type: the base command, cli args, and permissions an agent of this type
// starts with before per-agent overrides (extra_args / override) apply.
type AgentTypeConfig struct {
	Name                AgentTypeName `yaml:"name" json:"name"`
	ParentType          AgentTypeName `yaml:"parent_type,omitempty" json:"parent_type,omitempty"`
	Command             CommandString `yaml:"command,omitempty" json:"command,omitempty"`
	CliArgs             []string      `yaml:"cli_args,omitempty" json:"cli_args,omitempty"`
	Permissions         []Permission  `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	ResumeMessageDelay  int           `yaml:"resume_message_delay_seconds,omitempty" json:"resume_message_delay_seconds,omitempty"`
}

// AgentTypeRegistry holds every known agent type definition (built-ins plus
// user configuration overrides) keyed by name, and resolves parent_type
// chains on demand.
type AgentTypeRegistry struct {
	types map[AgentTypeName]AgentTypeConfig
}

// NewAgentTypeRegistry returns an empty registry; definitions are added
// with Register, where one with the same name as a previously-added one
// replaces it.
func NewAgentTypeRegistry() *AgentTypeRegistry {
	return &AgentTypeRegistry{types: make(map[AgentTypeName]AgentTypeConfig)}
}

// Register adds or replaces a type definition.
func (r *AgentTypeRegistry) Register(cfg AgentTypeConfig) {
	r.types[cfg.Name] = cfg
}

// ConfigParseError reports a problem resolving an agent type: an unknown
// parent or a cycle in the parent_type chain.
type ConfigParseError struct {
	TypeName AgentTypeName
	Reason   string
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("agent type %q: %s", e.TypeName, e.Reason)
}

// Resolve walks the parent_type chain from name to its root, unioning
// permissions, appending cli_args in parent-first order, and letting each
// child override scalar fields (command, resume delay) it sets explicitly.
// A cycle or a reference to an unregistered parent fails with
// ConfigParseError.
func (r *AgentTypeRegistry) Resolve(name AgentTypeName) (AgentTypeConfig, error) {
	chain, err := r.resolveChain(name, map[AgentTypeName]bool{})
	if err != nil {
		return AgentTypeConfig{}, err
	}

	var resolved AgentTypeConfig
	resolved.Name = name
	permSeen := map[Permission]bool{}
	for _, t := range chain {
		if t.Command != "" {
			resolved.Command = t.Command
		}
		resolved.CliArgs = append(resolved.CliArgs, t.CliArgs...)
		for _, p := range t.Permissions {
			if !permSeen[p] {
				permSeen[p] = true
				resolved.Permissions = append(resolved.Permissions, p)
			}
		}
		if t.ResumeMessageDelay != 0 {
			resolved.ResumeMessageDelay = t.ResumeMessageDelay
		}
	}
	return resolved, nil
}

// resolveChain returns the type's ancestry, root-first, so callers can fold
// parent-first then let children override.
func (r *AgentTypeRegistry) resolveChain(name AgentTypeName, visiting map[AgentTypeName]bool) ([]AgentTypeConfig, error) {
	if visiting[name] {
		return nil, &ConfigParseError{TypeName: name, Reason: "cycle detected in parent_type chain"}
	}
	t, ok := r.types[name]
	if !ok {
		return nil, &ConfigParseError{TypeName: name, Reason: "unknown agent type"}
	}
	visiting[name] = true

	if t.ParentType == "" {
		return []AgentTypeConfig{t}, nil
	}
	parentChain, err := r.resolveChain(t.ParentType, visiting)
	if err != nil {
		return nil, err
	}
	return append(parentChain, t), nil
}
