// Package domain holds the value types, identifiers, enums, and durable record
// shapes shared by every other package: hosts, agents, lifecycle states, and
// the primitive string types validated at construction time.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// hostIDNamespace is the namespace UUID used to derive deterministic HostIds
// for providers that don't assign their own identifiers (local, SSH). It is
// a fixed, arbitrary UUID so that the namespace itself never changes across
// processes or releases.
var hostIDNamespace = uuid.NewSHA1(uuid.Nil, []byte("mngr-host"))

// HostId is an opaque identifier for a host.
type HostId string

// AgentId is an opaque identifier for an agent.
type AgentId string

// SnapshotId is an opaque identifier assigned by the backing provider.
type SnapshotId string

// VolumeId is an opaque identifier assigned by the backing provider.
type VolumeId string

// DeriveHostId computes the deterministic HostId for a (provider instance
// name, host name) pair. The same pair always yields the same id, across
// processes and across reboots, because it is a pure UUIDv5 hash — this is
// the identity mechanism for providers (local, SSH) that don't hand out
// their own instance identifiers.
func DeriveHostId(providerInstanceName, hostName string) HostId {
	name := providerInstanceName + "/" + hostName
	return HostId(uuid.NewSHA1(hostIDNamespace, []byte(name)).String())
}

// NewAgentId generates a fresh, globally unique AgentId.
func NewAgentId() AgentId {
	return AgentId(uuid.New().String())
}

// String implements fmt.Stringer for convenient logging.
func (h HostId) String() string { return string(h) }

// String implements fmt.Stringer for convenient logging.
func (a AgentId) String() string { return string(a) }

// ValidationError reports why a value-typed string failed construction.
type ValidationError struct {
	TypeName string
	Value    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.TypeName, e.Value, e.Reason)
}
