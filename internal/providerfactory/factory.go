// Package providerfactory turns the loaded provider-instance documents
// (internal/config) into live provider.Provider values, one per configured
// instance, each wired against the shared durable stores (§4.10).
package providerfactory

import (
	"fmt"

	"muster/internal/config"
	"muster/internal/domain"
	"muster/internal/provider"
	"muster/internal/providers/container"
	"muster/internal/providers/local"
	"muster/internal/providers/serverless"
	"muster/internal/providers/sshprovider"
	"muster/internal/store"
)

// Build instantiates one provider.Provider per configured instance,
// dispatching on its backend name. An instance whose backend can't be
// constructed (e.g. no Docker/containerd daemon reachable) is skipped with
// the error returned alongside whatever instances did succeed, so a single
// misconfigured or unreachable backend doesn't prevent the rest of the
// fleet from being usable.
func Build(cfgs []config.ProviderInstanceConfig, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) ([]provider.Provider, []error) {
	var out []provider.Provider
	var errs []error

	for _, cfg := range cfgs {
		p, err := build(cfg, hostStore, agentStore, root, registry)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider instance %q: %w", cfg.Name, err))
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

func build(cfg config.ProviderInstanceConfig, hostStore *store.HostStore, agentStore *store.AgentStore, root *store.Root, registry *domain.AgentTypeRegistry) (provider.Provider, error) {
	switch cfg.Backend {
	case "local":
		return local.New(cfg.Name, hostStore, agentStore, root, registry), nil

	case "ssh":
		opts := sshprovider.InstanceOptions{
			Host:         stringOpt(cfg.Options, "host"),
			Port:         intOpt(cfg.Options, "port", 22),
			User:         stringOpt(cfg.Options, "user"),
			AdminKeyPath: stringOpt(cfg.Options, "admin_key_path"),
			KeyDir:       stringOpt(cfg.Options, "key_dir"),
			MngrHostDir:  stringOpt(cfg.Options, "mngr_host_dir"),
		}
		return sshprovider.New(cfg.Name, opts, hostStore, agentStore, root, registry), nil

	case "container":
		opts := container.InstanceOptions{
			DefaultImage: stringOpt(cfg.Options, "default_image"),
		}
		return container.New(cfg.Name, opts, hostStore, agentStore, root, registry)

	case "serverless":
		opts := serverless.InstanceOptions{
			SocketPath:   stringOpt(cfg.Options, "socket_path"),
			DefaultImage: stringOpt(cfg.Options, "default_image"),
			Snapshotter:  stringOpt(cfg.Options, "snapshotter"),
		}
		return serverless.New(cfg.Name, opts, hostStore, agentStore, root, registry)

	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}
}

func stringOpt(opts map[string]interface{}, key string) string {
	if opts == nil {
		return ""
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

func intOpt(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
