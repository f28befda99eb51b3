package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"muster/internal/domain"
)

// AgentNotFoundError is returned when an AgentId has no durable record
// under its host.
type AgentNotFoundError struct{ AgentId domain.AgentId }

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not found", e.AgentId)
}

// AgentNameConflictError is returned when a name is already in use by a
// different agent on the same host (§4.8 create_agent_state, §4.9 rename).
type AgentNameConflictError struct {
	HostId domain.HostId
	Name   domain.AgentName
}

func (e *AgentNameConflictError) Error() string {
	return fmt.Sprintf("agent name %q already in use on host %s", e.Name, e.HostId)
}

// AgentStore is CRUD over AgentRecord and its sidecar files (env, activity,
// reported, plugin scratch) nested under a host's directory.
type AgentStore struct {
	root *Root
}

// NewAgentStore builds an AgentStore rooted at root.
func NewAgentStore(root *Root) *AgentStore {
	return &AgentStore{root: root}
}

func (s *AgentStore) dir(hostId domain.HostId, id domain.AgentId) string {
	return filepath.Join(s.root.HostDir(hostId), "agents", string(id))
}

func (s *AgentStore) dataPath(hostId domain.HostId, id domain.AgentId) string {
	return filepath.Join(s.dir(hostId, id), "data.json")
}

// Create registers a brand-new agent record. Fails with
// AgentNameConflictError if another agent on the same host already holds
// the name (§4.8: "fails if the name is already in use on this host").
func (s *AgentStore) Create(rec domain.AgentRecord) error {
	existing, err := s.List(rec.HostId)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.Name == rec.Name && a.Id != rec.Id {
			return &AgentNameConflictError{HostId: rec.HostId, Name: rec.Name}
		}
	}

	dir := s.dir(rec.HostId, rec.Id)
	for _, sub := range []string{"activity", "reported", "reported/plugin", "plugin"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return WriteJSONAtomic(s.dataPath(rec.HostId, rec.Id), rec)
}

// Load reads an agent's durable record.
func (s *AgentStore) Load(hostId domain.HostId, id domain.AgentId) (domain.AgentRecord, error) {
	var rec domain.AgentRecord
	if err := ReadJSON(s.dataPath(hostId, id), &rec); err != nil {
		if os.IsNotExist(err) {
			return rec, &AgentNotFoundError{AgentId: id}
		}
		return rec, err
	}
	return rec, nil
}

// Save overwrites an agent's durable record.
func (s *AgentStore) Save(rec domain.AgentRecord) error {
	return WriteJSONAtomic(s.dataPath(rec.HostId, rec.Id), rec)
}

// Delete removes an agent's entire directory tree, called on explicit
// destroy or as a side effect of destroying its host.
func (s *AgentStore) Delete(hostId domain.HostId, id domain.AgentId) error {
	return os.RemoveAll(s.dir(hostId, id))
}

// List enumerates every agent record under a host. Like HostStore.List, a
// record that fails to parse is skipped rather than aborting the listing
// (§4.5's "tolerates missing fields by degrading... to a lower-confidence
// state" — here, the degradation is simply omission, since a record that
// can't even be unmarshaled has no fields to degrade).
func (s *AgentStore) List(hostId domain.HostId) ([]domain.AgentRecord, error) {
	agentsDir := filepath.Join(s.root.HostDir(hostId), "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []domain.AgentRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.Load(hostId, domain.AgentId(e.Name()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Rename implements the two-step, crash-safe rename of §4.9. It only
// updates the durable record; the caller (the host interface, which also
// controls the multiplexer) is responsible for step 2, renaming the tmux
// session, and for treating a no-op old==new as already-done.
func (s *AgentStore) Rename(hostId domain.HostId, id domain.AgentId, newName domain.AgentName) (domain.AgentRecord, error) {
	rec, err := s.Load(hostId, id)
	if err != nil {
		return rec, err
	}
	if rec.Name == newName {
		return rec, nil // no-op: rename to current name
	}

	existing, err := s.List(hostId)
	if err != nil {
		return rec, err
	}
	for _, a := range existing {
		if a.Name == newName && a.Id != id {
			return rec, &AgentNameConflictError{HostId: hostId, Name: newName}
		}
	}

	rec.Name = newName
	if err := s.Save(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// SetEnvVars rewrites an agent's env file.
func (s *AgentStore) SetEnvVars(hostId domain.HostId, id domain.AgentId, env map[string]string) error {
	path := filepath.Join(s.dir(hostId, id), "env")
	var data []byte
	for k, v := range env {
		data = append(data, []byte(k+"="+v+"\n")...)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// TouchActivity writes/updates the activity file for source under an
// agent's activity/ directory; its mtime is the authoritative activity time
// (§3 invariant: "mtimes monotonically increase").
func (s *AgentStore) TouchActivity(hostId domain.HostId, id domain.AgentId, source domain.ActivitySource) error {
	path := filepath.Join(s.dir(hostId, id), "activity", string(source))
	return WriteFileAtomic(path, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o644)
}

// ActivityMtimes returns the mtimes of every activity file under an agent.
func (s *AgentStore) ActivityMtimes(hostId domain.HostId, id domain.AgentId) ([]time.Time, error) {
	return domain.ActivityMtimes(filepath.Join(s.dir(hostId, id), "activity"))
}

// reportedPaths maps the well-known reported fields to their file names.
const (
	reportedURLFile    = "reported/url"
	reportedStartFile  = "reported/start_time"
	reportedMDFile     = "reported/status.md"
	reportedHTMLFile   = "reported/status.html"
	reportedWaitMarker = "reported/waiting_for_input"
	reportedDoneMarker = "reported/done"
)

// LoadReported reads the reported/* files an agent's own process writes.
// Every field is optional: a missing file simply leaves that field nil,
// since the manager must never treat an agent's silence as an error.
func (s *AgentStore) LoadReported(hostId domain.HostId, id domain.AgentId) (domain.ReportedFields, error) {
	dir := s.dir(hostId, id)
	var out domain.ReportedFields

	if data, err := os.ReadFile(filepath.Join(dir, reportedURLFile)); err == nil {
		url := string(data)
		out.URL = &url
	}
	if data, err := os.ReadFile(filepath.Join(dir, reportedStartFile)); err == nil {
		if t, err := time.Parse(time.RFC3339, string(data)); err == nil {
			out.StartTime = &t
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, reportedMDFile)); err == nil {
		md := string(data)
		out.StatusMarkdown = &md
	}
	if data, err := os.ReadFile(filepath.Join(dir, reportedHTMLFile)); err == nil {
		html := string(data)
		out.StatusHTML = &html
	}
	return out, nil
}

// HasWaitingMarker reports whether the agent has written the
// waiting-for-input reported marker (feeds §4.6's WAITING derivation).
func (s *AgentStore) HasWaitingMarker(hostId domain.HostId, id domain.AgentId) bool {
	return Exists(filepath.Join(s.dir(hostId, id), reportedWaitMarker))
}

// HasDoneMarker reports whether the agent has written the completion
// reported marker (feeds §4.6's DONE derivation).
func (s *AgentStore) HasDoneMarker(hostId domain.HostId, id domain.AgentId) bool {
	return Exists(filepath.Join(s.dir(hostId, id), reportedDoneMarker))
}

// SavePluginCertified persists the certified sub-map for one plugin.
func (s *AgentStore) SavePluginCertified(hostId domain.HostId, id domain.AgentId, plugin domain.PluginName, data map[string]interface{}) error {
	path := filepath.Join(s.dir(hostId, id), "plugin", string(plugin)+".json")
	return WriteJSONAtomic(path, data)
}

// ReportedDir returns the reported/ directory for id, e.g. for a plugin to
// enumerate its own reported/plugin/<name>/ scratch files.
func (s *AgentStore) ReportedDir(hostId domain.HostId, id domain.AgentId) string {
	return filepath.Join(s.dir(hostId, id), "reported")
}

// Dir exposes the agent's root directory, e.g. for a provider to resolve
// the work_dir relative to it or to enumerate log files.
func (s *AgentStore) Dir(hostId domain.HostId, id domain.AgentId) string {
	return s.dir(hostId, id)
}
