package domain

import "time"

// SourceLocation names where create_agent_work_dir copies its initial
// contents from. A source can be a plain path, or it can reference another
// agent's work dir (possibly on a different host) by id or name; IsFromAgent
// reports which case applies. Supplemented from the original implementation's
// data_types.py, which modeled this as a tagged source rather than a bare
// path.
type SourceLocation struct {
	Path      string
	AgentID   AgentId
	AgentName AgentName
	HostID    HostId
	HostName  HostName
}

// IsFromAgent reports whether this source names an agent rather than a bare
// filesystem path.
func (s SourceLocation) IsFromAgent() bool {
	return s.AgentID != "" || s.AgentName != ""
}

// WorkDirCopyStrategy selects how create_agent_work_dir populates a new work
// directory from a SourceLocation.
type WorkDirCopyStrategy string

const (
	CopyStrategyRsync    WorkDirCopyStrategy = "rsync"
	CopyStrategyClone    WorkDirCopyStrategy = "clone"
	CopyStrategyWorktree WorkDirCopyStrategy = "worktree"
	CopyStrategyInPlace  WorkDirCopyStrategy = "in_place"
	CopyStrategyFullCopy WorkDirCopyStrategy = "full_copy"
)

// WorkDirOptions controls create_agent_work_dir.
type WorkDirOptions struct {
	Strategy     WorkDirCopyStrategy
	IncludeGit   bool
	BranchName   string
	Uncommitted  UncommittedChangesMode
}

// WorkDirInfo is a read-only descriptor of an agent's work directory,
// returned by a host's introspection operations. The original
// implementation's api/data_types.py imports a type of this name from its
// interfaces/data_types.py (not present in this retrieval pack), so the
// fields here are spec-inferred from how WorkDirInfo values are used at
// that import site rather than ported from the defining source.
type WorkDirInfo struct {
	Path      string
	SizeBytes int64
	GitBranch string
	IsDirty   bool
}

// LogFileInfo describes one discoverable log file under a host or agent,
// backing the `logs` CLI command. Spec-inferred in the same way as
// WorkDirInfo: the defining source (interfaces/data_types.py) is not in
// this retrieval pack, only the import site in api/data_types.py.
type LogFileInfo struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// BuildCacheInfo describes a provider's build cache usage for a host image.
// Spec-inferred in the same way as WorkDirInfo/LogFileInfo.
type BuildCacheInfo struct {
	SizeBytes   int64
	LastUsed    time.Time
	EntryCount  int
}
