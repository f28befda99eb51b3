package domain

import "time"

// Snapshot is one entry in a host's ordered snapshot history.
type Snapshot struct {
	Id        SnapshotId `json:"id"`
	Name      SnapshotName `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
}

// CertifiedHostData is the durable record of a host, written only by the
// manager. It is the portion of a HostRecord that survives a host being
// entirely offline or mid-build.
type CertifiedHostData struct {
	HostId    HostId            `json:"host_id"`
	HostName  HostName          `json:"host_name"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	UserTags  map[string]string `json:"user_tags"`
	Image     *ImageReference   `json:"image,omitempty"`
	StopReason StopReason       `json:"stop_reason"`
	Snapshots []Snapshot        `json:"snapshots"`
}

// HostRecord is CertifiedHostData plus the connectivity fields needed to
// reconnect to an online host. For a host that never finished coming up the
// connectivity fields may be nil; the certified part is always complete.
type HostRecord struct {
	CertifiedHostData

	SSHHost          *string  `json:"ssh_host,omitempty"`
	SSHPort          *int     `json:"ssh_port,omitempty"`
	SSHHostPublicKey *string  `json:"ssh_host_public_key,omitempty"`
	ContainerId      *string  `json:"container_id,omitempty"`
	Config           HostConfig `json:"config"`
}

// HostConfig is the raw start configuration needed to restart a stopped host.
type HostConfig struct {
	ProviderInstance   ProviderInstanceName   `json:"provider_instance"`
	BuildArgs          []string               `json:"build_args,omitempty"`
	StartArgs          []string               `json:"start_args,omitempty"`
	KnownHosts         []string               `json:"known_hosts,omitempty"`
	IdleTimeoutSeconds *int                   `json:"idle_timeout_seconds,omitempty"`
	IdleMode           *IdleMode              `json:"idle_mode,omitempty"`
	ActivitySources    []ActivitySource       `json:"activity_sources,omitempty"`
}

// ReportedFields are written exclusively by the agent's own process; the
// manager only ever reads them.
type ReportedFields struct {
	URL                *string `json:"reported_url,omitempty"`
	StartTime          *time.Time `json:"reported_start_time,omitempty"`
	StatusMarkdown     *string `json:"reported_status_markdown,omitempty"`
	StatusHTML         *string `json:"reported_status_html,omitempty"`
}

// AgentRecord is the durable record of an agent.
type AgentRecord struct {
	// Identity
	Id         AgentId       `json:"id"`
	Name       AgentName     `json:"name"`
	Type       AgentTypeName `json:"type"`
	WorkDir    string        `json:"work_dir"`
	CreateTime time.Time     `json:"create_time"`
	HostId     HostId        `json:"host_id"`

	// Behavior
	Command             CommandString `json:"command"`
	CliArgs              []string      `json:"cli_args,omitempty"`
	EnvVars              map[string]string `json:"env_vars,omitempty"`
	Permissions          []Permission  `json:"permissions,omitempty"`
	IsStartOnBoot        bool          `json:"is_start_on_boot"`
	InitialMessage       *string       `json:"initial_message,omitempty"`
	ResumeMessage        *string       `json:"resume_message,omitempty"`
	MessageDelaySeconds  int           `json:"message_delay_seconds"`

	// Reported, written by the agent itself
	Reported ReportedFields `json:"reported"`

	// Plugin scratch: certified sub-map keyed by plugin name.
	PluginCertified map[PluginName]map[string]interface{} `json:"plugin_certified,omitempty"`
}
