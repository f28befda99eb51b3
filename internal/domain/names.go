package domain

import "regexp"

// namePattern is the character class every name-like value type is restricted
// to: letters, digits, dot, underscore, dash. Non-empty, provider-specific
// max length is enforced by callers that know the provider.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// AgentName is a validated agent name, unique within a host at any given time.
type AgentName string

// HostName is a validated host name, unique within a provider instance.
type HostName string

// SnapshotName is a validated, human-assigned name for a host snapshot.
type SnapshotName string

// ProviderInstanceName identifies a configured endpoint of a provider backend,
// e.g. two SSH instances pointing at different fleets.
type ProviderInstanceName string

// ProviderBackendName identifies the code that knows how to talk to one kind
// of host runtime (local, ssh, container, serverless).
type ProviderBackendName string

// AgentTypeName identifies a registered agent type (e.g. "generic", "coder").
type AgentTypeName string

// PluginName identifies a plugin contributing scratch state to an agent.
type PluginName string

// Permission is an opaque capability token granted to an agent.
type Permission string

func validateNamePattern(typeName, value string, maxLen int) error {
	if value == "" {
		return &ValidationError{TypeName: typeName, Value: value, Reason: "must not be empty"}
	}
	if maxLen > 0 && len(value) > maxLen {
		return &ValidationError{TypeName: typeName, Value: value, Reason: "exceeds maximum length"}
	}
	if !namePattern.MatchString(value) {
		return &ValidationError{TypeName: typeName, Value: value, Reason: "must match [A-Za-z0-9._-]+"}
	}
	return nil
}

// NewAgentName validates and constructs an AgentName. maxLen of 0 means no
// provider-specific limit is enforced here.
func NewAgentName(value string, maxLen int) (AgentName, error) {
	if err := validateNamePattern("AgentName", value, maxLen); err != nil {
		return "", err
	}
	return AgentName(value), nil
}

// NewHostName validates and constructs a HostName.
func NewHostName(value string, maxLen int) (HostName, error) {
	if err := validateNamePattern("HostName", value, maxLen); err != nil {
		return "", err
	}
	return HostName(value), nil
}

// NewSnapshotName validates and constructs a SnapshotName.
func NewSnapshotName(value string, maxLen int) (SnapshotName, error) {
	if err := validateNamePattern("SnapshotName", value, maxLen); err != nil {
		return "", err
	}
	return SnapshotName(value), nil
}

// NewProviderInstanceName validates and constructs a ProviderInstanceName.
func NewProviderInstanceName(value string) (ProviderInstanceName, error) {
	if err := validateNamePattern("ProviderInstanceName", value, 0); err != nil {
		return "", err
	}
	return ProviderInstanceName(value), nil
}

// NewProviderBackendName validates and constructs a ProviderBackendName.
func NewProviderBackendName(value string) (ProviderBackendName, error) {
	if err := validateNamePattern("ProviderBackendName", value, 0); err != nil {
		return "", err
	}
	return ProviderBackendName(value), nil
}

// NewAgentTypeName validates and constructs an AgentTypeName.
func NewAgentTypeName(value string) (AgentTypeName, error) {
	if err := validateNamePattern("AgentTypeName", value, 0); err != nil {
		return "", err
	}
	return AgentTypeName(value), nil
}

// NewPluginName validates and constructs a PluginName.
func NewPluginName(value string) (PluginName, error) {
	if err := validateNamePattern("PluginName", value, 0); err != nil {
		return "", err
	}
	return PluginName(value), nil
}

// Verbatim value types. These are stored as-is; validation, if any, is
// provider-specific and happens where they're consumed, not at construction.
type (
	// CronSchedule is a cron expression, stored verbatim.
	CronSchedule string
	// GitRepoUrl is a git remote URL, stored verbatim.
	GitRepoUrl string
	// ImageReference names a provider image, stored verbatim.
	ImageReference string
	// CommandString is a shell command line, stored verbatim.
	CommandString string
)
