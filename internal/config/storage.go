// Package config loads the directory-based configuration documents described
// in §4.14 and §6: agent-type definitions (with parent_type resolution) and
// provider-instance definitions. Every document is YAML, one file per
// entity, mirroring the teacher's per-entity-type directory-of-files
// convention (internal/config/storage.go in giantswarm-muster) generalized
// from ServiceClass/MCPServer documents to mngr's agent-type/provider
// documents.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"muster/internal/domain"
	"muster/pkg/logging"
)

const configSubsystem = "Config"

// ProviderInstanceConfig is one configured endpoint of a provider backend,
// e.g. an SSH instance pointing at a specific fleet.
type ProviderInstanceConfig struct {
	Name    domain.ProviderInstanceName `yaml:"name"`
	Backend domain.ProviderBackendName  `yaml:"backend"`
	Options map[string]interface{}     `yaml:"options,omitempty"`
}

// Directory loads agent-type and provider-instance documents from a single
// configuration root: <root>/agent-types/*.yaml and
// <root>/providers/*.yaml.
type Directory struct {
	root string
}

// NewDirectory builds a Directory rooted at root. root is never created
// here; a Directory over a nonexistent root simply yields empty Load* results.
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

func (d *Directory) listYAML(subdir string) ([]string, error) {
	dir := filepath.Join(d.root, subdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}

// LoadAgentTypes reads every document under agent-types/ into a registry.
// A document that fails to parse is logged and skipped rather than
// aborting the whole load, the same degrade-don't-crash posture the
// durable state store takes on a half-written record (§4.5) — agent-type
// configuration is user-editable and a typo in one file shouldn't take
// down every other type.
func (d *Directory) LoadAgentTypes(registry *domain.AgentTypeRegistry) error {
	paths, err := d.listYAML("agent-types")
	if err != nil {
		return &LoadError{Path: filepath.Join(d.root, "agent-types"), Reason: err}
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn(configSubsystem, "skipping unreadable agent type %s: %v", path, err)
			continue
		}
		var cfg domain.AgentTypeConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logging.Warn(configSubsystem, "skipping unparseable agent type %s: %v", path, err)
			continue
		}
		if cfg.Name == "" {
			cfg.Name = domain.AgentTypeName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		registry.Register(cfg)
	}
	return nil
}

// LoadProviderInstances reads every document under providers/.
func (d *Directory) LoadProviderInstances() ([]ProviderInstanceConfig, error) {
	paths, err := d.listYAML("providers")
	if err != nil {
		return nil, &LoadError{Path: filepath.Join(d.root, "providers"), Reason: err}
	}
	var out []ProviderInstanceConfig
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn(configSubsystem, "skipping unreadable provider instance %s: %v", path, err)
			continue
		}
		var cfg ProviderInstanceConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logging.Warn(configSubsystem, "skipping unparseable provider instance %s: %v", path, err)
			continue
		}
		if cfg.Name == "" {
			cfg.Name = domain.ProviderInstanceName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		out = append(out, cfg)
	}
	return out, nil
}
