package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"muster/internal/domain"
)

// HostNotFoundError is returned when a HostId has no durable record.
type HostNotFoundError struct{ HostId domain.HostId }

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("host %s not found", e.HostId)
}

// HostStore is CRUD over HostRecord plus the host-scoped sidecar files
// (tags.json, env, signals/) described in §4.5.
type HostStore struct {
	root *Root
}

// NewHostStore builds a HostStore rooted at root.
func NewHostStore(root *Root) *HostStore {
	return &HostStore{root: root}
}

func (s *HostStore) dataPath(id domain.HostId) string {
	return filepath.Join(s.root.HostDir(id), "data.json")
}

// Create writes a brand-new HostRecord; CreatedAt/UpdatedAt are stamped by
// the caller and written as given (Save, by contrast, stamps UpdatedAt with
// time.Now).
func (s *HostStore) Create(rec domain.HostRecord) error {
	dir := s.root.HostDir(rec.HostId)
	for _, sub := range []string{"commands", "logs", "agents", "signals", "activity"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return WriteJSONAtomic(s.dataPath(rec.HostId), rec)
}

// Load reads a host's durable record. Per §4.5's atomic-write contract, a
// reader that races a concurrent Save either sees the old record or the new
// one — WriteJSONAtomic's rename guarantees there's no third possibility.
func (s *HostStore) Load(id domain.HostId) (domain.HostRecord, error) {
	var rec domain.HostRecord
	if err := ReadJSON(s.dataPath(id), &rec); err != nil {
		if os.IsNotExist(err) {
			return rec, &HostNotFoundError{HostId: id}
		}
		return rec, err
	}
	return rec, nil
}

// Save overwrites a host's durable record and always bumps UpdatedAt, per
// §3's "updated on every state transition (and always on rename/tag
// changes)" rule.
func (s *HostStore) Save(rec domain.HostRecord) error {
	rec.UpdatedAt = time.Now()
	return WriteJSONAtomic(s.dataPath(rec.HostId), rec)
}

// Delete removes a host's entire directory tree. Called only on explicit
// destroy (§3: "destroyed only by explicit destroy").
func (s *HostStore) Delete(id domain.HostId) error {
	return os.RemoveAll(s.root.HostDir(id))
}

// List enumerates every host record the store currently holds. A record
// that fails to parse is skipped (logged by ReadJSON), never fatal to the
// overall listing — this is what lets the fleet pipeline degrade instead
// of crashing on a half-written file (§4.5).
func (s *HostStore) List() ([]domain.HostRecord, error) {
	ids, err := s.root.ListHostIds()
	if err != nil {
		return nil, err
	}
	var out []domain.HostRecord
	for _, id := range ids {
		rec, err := s.Load(id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveTags overwrites the optional mutable tag overlay at tags.json.
func (s *HostStore) SaveTags(id domain.HostId, tags map[string]string) error {
	path := filepath.Join(s.root.HostDir(id), "tags.json")
	return WriteJSONAtomic(path, tags)
}

// LoadTags reads the tag overlay, returning an empty map if none was ever
// written.
func (s *HostStore) LoadTags(id domain.HostId) (map[string]string, error) {
	path := filepath.Join(s.root.HostDir(id), "tags.json")
	var tags map[string]string
	if err := ReadJSON(path, &tags); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return tags, nil
}

// SetEnvVars rewrites the host's env file as KEY=VALUE lines (§4.8
// set_env_vars).
func (s *HostStore) SetEnvVars(id domain.HostId, env map[string]string) error {
	path := filepath.Join(s.root.HostDir(id), "env")
	var data []byte
	for k, v := range env {
		data = append(data, []byte(k+"="+v+"\n")...)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// SignalPath returns where the connect wrapper should look for (and unlink)
// a disconnect signal written by the tmux key binding for session.
func (s *HostStore) SignalPath(id domain.HostId, session string) string {
	return filepath.Join(s.root.HostDir(id), "signals", session)
}

// ReadAndClearSignal reads the one-word signal file for session, if present,
// and unlinks it per §6's "read and unlinked by the connect wrapper" rule.
func (s *HostStore) ReadAndClearSignal(id domain.HostId, session string) (string, error) {
	path := s.SignalPath(id, session)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	_ = os.Remove(path)
	return string(data), nil
}

// TouchHostActivity writes/updates the on-host activity file for source
// (e.g. "ssh"), whose mtime drives §4.13 idle detection.
func (s *HostStore) TouchHostActivity(id domain.HostId, source string, payload []byte) error {
	path := filepath.Join(s.root.HostDir(id), "activity", source)
	return WriteFileAtomic(path, payload, 0o644)
}

// HostActivityMtimes returns the mtimes of every host-level activity file.
func (s *HostStore) HostActivityMtimes(id domain.HostId) ([]time.Time, error) {
	return domain.ActivityMtimes(filepath.Join(s.root.HostDir(id), "activity"))
}

// Lock acquires the per-host advisory lock for a mutation sequence.
func (s *HostStore) Lock(id domain.HostId, deadline time.Duration) (*HostLock, error) {
	return AcquireHostLock(s.root.HostDir(id), deadline)
}
