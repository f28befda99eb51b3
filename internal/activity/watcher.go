package activity

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"muster/internal/domain"
	"muster/internal/process"
	"muster/internal/provider"
	"muster/internal/store"
	"muster/pkg/logging"
)

const watcherSubsystem = "ActivityWatcher"

// PollInterval is how often the Watcher re-checks idle state, both on the
// fsnotify path (where it's the debounce window for a burst of writes) and
// on the polling fallback (where it's the only signal).
const PollInterval = 30 * time.Second

// ShutdownScriptPath is the host-relative path of the script the watcher
// execs once idle fires. The bootstrap in internal/sshsetup does not install
// it; its embedded resources hold only activity_watcher.sh, launched by
// sshsetup.BuildStartActivityWatcherCommand.
const ShutdownScriptPath = "commands/shutdown.sh"

// DefaultActivityConfig mirrors provider.DefaultActivityConfig; duplicated
// as a fallback so this package doesn't need a live provider instance, only
// the host's own durable record, to decide its policy.
var DefaultActivityConfig = provider.DefaultActivityConfig

// Watcher runs continuously on a host, watching its own durable directory
// tree (§4.5) for activity and triggering the shutdown script once the
// host's resolved idle policy fires (§4.13). It is the process C9's "Start
// activity watcher" step launches detached.
type Watcher struct {
	hostDir    string
	hostStore  *store.HostStore
	agentStore *store.AgentStore
	hostId     domain.HostId
}

// NewWatcher builds a Watcher for one host's directory tree. hostDir is the
// same path store.Root.HostDir(hostId) resolves to; the watcher process
// runs inside the host so it addresses this path locally, not through a
// remote store root.
func NewWatcher(hostDir string, hostId domain.HostId, hostStore *store.HostStore, agentStore *store.AgentStore) *Watcher {
	return &Watcher{hostDir: hostDir, hostStore: hostStore, agentStore: agentStore, hostId: hostId}
}

// Run blocks, checking idle state on every fsnotify event (debounced by
// PollInterval) and unconditionally every PollInterval as a fallback for
// filesystems where inotify doesn't fire (overlay/network mounts) — §9's
// "Subprocess streaming with blocking reads... keep that; it is already the
// simplest portable design" motivates the same bias here: a dumb poll loop
// the watcher can always fall back to beats a purely event-driven design
// that can silently stop noticing activity.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, fsErr := fsnotify.NewWatcher()
	if fsErr == nil {
		defer watcher.Close()
		w.addWatchesBestEffort(watcher)
	} else {
		logging.Warn(watcherSubsystem, "fsnotify unavailable (%v), falling back to polling", fsErr)
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.checkAndMaybeShutdown(ctx) {
				return nil
			}
		case ev := <-w.events(watcher):
			_ = ev // any event is enough to know an activity file changed; the
			// next ticker tick (or poll below) re-evaluates idle state.
		}
	}
}

func (w *Watcher) events(watcher *fsnotify.Watcher) <-chan fsnotify.Event {
	if watcher == nil {
		return nil
	}
	return watcher.Events
}

func (w *Watcher) addWatchesBestEffort(watcher *fsnotify.Watcher) {
	dirs := []string{filepath.Join(w.hostDir, "activity")}
	agentsDir := filepath.Join(w.hostDir, "agents")
	entries, err := os.ReadDir(agentsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(agentsDir, e.Name(), "activity"))
			}
		}
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			logging.Debug(watcherSubsystem, "watch %s: %v", d, err)
		}
	}
}

// checkAndMaybeShutdown loads the host's current record, evaluates idle
// policy, and triggers the shutdown script if it fires. Returns true once
// shutdown has been triggered (the watcher process is about to be torn
// down along with the host, so Run can stop looping).
func (w *Watcher) checkAndMaybeShutdown(ctx context.Context) bool {
	rec, err := w.hostStore.Load(w.hostId)
	if err != nil {
		logging.Warn(watcherSubsystem, "loading host record: %v", err)
		return false
	}

	cfg := provider.ResolveActivityConfig(&provider.HostLifecycleOptions{
		IdleTimeoutSeconds: rec.Config.IdleTimeoutSeconds,
		IdleMode:           rec.Config.IdleMode,
		ActivitySources:    rec.Config.ActivitySources,
	}, DefaultActivityConfig)

	if cfg.IdleMode == domain.IdleModeDisabled {
		return false
	}

	hostMtimes, err := w.hostStore.HostActivityMtimes(w.hostId)
	if err != nil {
		return false
	}
	agentRecs, err := w.agentStore.List(w.hostId)
	if err != nil {
		return false
	}
	perAgent := make([][]time.Time, 0, len(agentRecs))
	for _, a := range agentRecs {
		mtimes, err := w.agentStore.ActivityMtimes(w.hostId, a.Id)
		if err != nil {
			continue
		}
		perAgent = append(perAgent, mtimes)
	}

	idleSeconds, idle := EvaluateIdle(cfg, time.Now(), hostMtimes, perAgent)
	if !idle {
		return false
	}

	logging.Info(watcherSubsystem, "host %s idle for %.0fs (mode=%s), running shutdown script", rec.HostName, idleSeconds, cfg.IdleMode)
	if err := w.runShutdownScript(ctx); err != nil {
		logging.Warn(watcherSubsystem, "shutdown script failed: %v", err)
		return false
	}
	return true
}

func (w *Watcher) runShutdownScript(ctx context.Context) error {
	script := filepath.Join(w.hostDir, ShutdownScriptPath)
	if _, err := os.Stat(script); err != nil {
		return err
	}
	result, err := process.Run(ctx, process.Options{
		Command: []string{"sh", script},
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return err
	}
	return result.Check()
}
