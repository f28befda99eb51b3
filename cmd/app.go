package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"muster/internal/activity"
	"muster/internal/concurrency"
	"muster/internal/config"
	"muster/internal/domain"
	"muster/internal/fleet"
	"muster/internal/provider"
	"muster/internal/providerfactory"
	"muster/internal/store"
	"muster/pkg/logging"
)

const appSubsystem = "CLI"

// app bundles every command's shared dependencies: the durable store root,
// the agent-type registry, the live provider set, and the fleet pipeline
// built over them. Each RunE builds one per invocation; nothing here
// survives past a single command (the warm-successor server is what
// amortizes the cost of building this repeatedly, per §4.3).
type app struct {
	root       *store.Root
	hostStore  *store.HostStore
	agentStore *store.AgentStore
	registry   *domain.AgentTypeRegistry
	providers  []provider.Provider
	pipeline   *fleet.Pipeline
	enforcer   *activity.Enforcer
	group      *concurrency.Group
}

// builtinAgentType is registered before config/agent-types/*.yaml is
// loaded, so a bare `create NAME -- CMD` with no configured types still
// resolves to something: an agent type with no default command of its
// own, relying entirely on the invocation's CMD.
const builtinAgentType = domain.AgentTypeName("generic")

func newApp() (*app, error) {
	root := store.NewRootFromEnv()
	hostStore := store.NewHostStore(root)
	agentStore := store.NewAgentStore(root)

	registry := domain.NewAgentTypeRegistry()
	registry.Register(domain.AgentTypeConfig{Name: builtinAgentType})

	dir := config.NewDirectory(root.BaseDir)
	if err := dir.LoadAgentTypes(registry); err != nil {
		return nil, err
	}
	providerCfgs, err := dir.LoadProviderInstances()
	if err != nil {
		return nil, err
	}
	if len(providerCfgs) == 0 {
		localName, _ := domain.NewProviderInstanceName("local")
		providerCfgs = []config.ProviderInstanceConfig{{Name: localName, Backend: "local"}}
	}

	providers, buildErrs := providerfactory.Build(providerCfgs, hostStore, agentStore, root, registry)
	for _, e := range buildErrs {
		logging.Warn(appSubsystem, "%v", e)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider instances configured")
	}

	return &app{
		root:       root,
		hostStore:  hostStore,
		agentStore: agentStore,
		registry:   registry,
		providers:  providers,
		pipeline:   fleet.New(providers),
		enforcer:   activity.NewEnforcer(hostStore, agentStore),
		group:      concurrency.New(),
	}, nil
}

func (a *app) close() {
	a.group.Close()
}

// warmDirEntryPoint is what every command-spawning entry point namespaces
// its warm-successor socket by; all subcommands share one replacement pool
// since they all pay the same import-time cost to start (§4.3).
const warmDirEntryPoint = "mngr-cli"

func defaultLogFilePath() string {
	root := store.NewRootFromEnv()
	return filepath.Join(root.BaseDir, "cli.log")
}

func openLogFile() *os.File {
	path := defaultLogFilePath()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return f
}
