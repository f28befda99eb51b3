package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/domain"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadAgentTypesAndParentResolution(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agent-types", "base.yaml"), "name: base\ncommand: \"agent\"\npermissions: [read]\n")
	writeFile(t, filepath.Join(root, "agent-types", "coder.yaml"), "name: coder\nparent_type: base\ncli_args: [--mode=code]\npermissions: [write]\n")

	dir := NewDirectory(root)
	registry := domain.NewAgentTypeRegistry()
	require.NoError(t, dir.LoadAgentTypes(registry))

	resolved, err := registry.Resolve("coder")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandString("agent"), resolved.Command)
	assert.ElementsMatch(t, []domain.Permission{"read", "write"}, resolved.Permissions)
	assert.Equal(t, []string{"--mode=code"}, resolved.CliArgs)
}

func TestLoadAgentTypesSkipsUnparseable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agent-types", "good.yaml"), "name: good\ncommand: \"agent\"\n")
	writeFile(t, filepath.Join(root, "agent-types", "bad.yaml"), "name: [this is not valid: yaml\n")

	dir := NewDirectory(root)
	registry := domain.NewAgentTypeRegistry()
	require.NoError(t, dir.LoadAgentTypes(registry))

	_, err := registry.Resolve("good")
	assert.NoError(t, err)
	_, err = registry.Resolve("bad")
	assert.Error(t, err)
}

func TestLoadProviderInstances(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "providers", "local.yaml"), "name: local\nbackend: local\n")

	dir := NewDirectory(root)
	instances, err := dir.LoadProviderInstances()
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, domain.ProviderBackendName("local"), instances[0].Backend)
}
