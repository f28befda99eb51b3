package store

import (
	"os"
	"path/filepath"

	"muster/internal/domain"
)

// Root is the on-disk root of the durable state store: one directory per
// host plus a name index so ids can be resolved from a (provider instance,
// host name) pair without scanning every host directory.
type Root struct {
	// BaseDir is the directory under which every host directory lives.
	BaseDir string
	// SessionPrefix is prepended to an agent's name to form its multiplexer
	// session name (§6 "Session naming"): MNGR_PREFIX, default "mngr-".
	SessionPrefix string
}

const defaultRootName = ".mngr"
const defaultPrefix = "mngr-"

// NewRootFromEnv resolves the store root the way every entry point does:
// MNGR_HOST_DIR overrides the base directory outright; otherwise it is
// $HOME/<MNGR_ROOT_NAME or ".mngr">. MNGR_PREFIX overrides the session
// name prefix.
func NewRootFromEnv() *Root {
	base := os.Getenv("MNGR_HOST_DIR")
	if base == "" {
		rootName := os.Getenv("MNGR_ROOT_NAME")
		if rootName == "" {
			rootName = defaultRootName
		}
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, rootName)
	}

	prefix := os.Getenv("MNGR_PREFIX")
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Root{BaseDir: base, SessionPrefix: prefix}
}

// HostDir returns the directory a host's durable records live under.
func (r *Root) HostDir(id domain.HostId) string {
	return filepath.Join(r.BaseDir, "hosts", string(id))
}

// nameIndexPath returns the file mapping (provider instance, host name) to
// a HostId, so a human-entered name can be resolved without scanning every
// host directory. The path itself is derived deterministically from the
// same pair DeriveHostId hashes, so no separate lookup table is needed for
// providers that use deterministic ids; providers with their own identity
// scheme persist their own mapping file here instead.
func (r *Root) nameIndexPath(providerInstance domain.ProviderInstanceName, hostName domain.HostName) string {
	return filepath.Join(r.BaseDir, "names", string(providerInstance), string(hostName)+".id")
}

// RecordName indexes id under (providerInstance, hostName) so a later
// ResolveName call can find it. Providers call this after create_host; the
// providers here all derive their ids with DeriveHostId, so the id is also
// recomputable, but recording it keeps lookups uniform and cheap.
func (r *Root) RecordName(providerInstance domain.ProviderInstanceName, hostName domain.HostName, id domain.HostId) error {
	return WriteFileAtomic(r.nameIndexPath(providerInstance, hostName), []byte(string(id)), 0o644)
}

// ResolveName looks up a previously recorded (providerInstance, hostName)
// pair. If no index entry exists but the provider is one that derives ids
// deterministically, callers should fall back to domain.DeriveHostId
// themselves rather than treating a miss here as NotFound.
func (r *Root) ResolveName(providerInstance domain.ProviderInstanceName, hostName domain.HostName) (domain.HostId, bool) {
	data, err := os.ReadFile(r.nameIndexPath(providerInstance, hostName))
	if err != nil {
		return "", false
	}
	return domain.HostId(data), true
}

// ListHostIds enumerates every host directory present under the root.
func (r *Root) ListHostIds() ([]domain.HostId, error) {
	hostsDir := filepath.Join(r.BaseDir, "hosts")
	entries, err := os.ReadDir(hostsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]domain.HostId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, domain.HostId(e.Name()))
		}
	}
	return ids, nil
}

// SessionName returns the tmux session name for an agent, per §6's
// "<config.prefix><agent.name>" rule.
func (r *Root) SessionName(name domain.AgentName) string {
	return r.SessionPrefix + string(name)
}
