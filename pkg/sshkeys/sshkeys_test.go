package sshkeys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateClientKeypairCachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateClientKeypair(dir)
	require.NoError(t, err)
	assert.Contains(t, first.PrivateKeyPEM, "RSA PRIVATE KEY")
	assert.Contains(t, first.PublicKeyLine, "ssh-rsa")

	second, err := LoadOrCreateClientKeypair(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateHostKeypairIsEd25519(t *testing.T) {
	dir := t.TempDir()

	kp, err := LoadOrCreateHostKeypair(dir)
	require.NoError(t, err)
	assert.Contains(t, kp.PrivateKeyPEM, "PRIVATE KEY")
	assert.Contains(t, kp.PublicKeyLine, "ssh-ed25519")
}

func TestClientAndHostKeypairsAreIndependent(t *testing.T) {
	dir := t.TempDir()

	client, err := LoadOrCreateClientKeypair(dir)
	require.NoError(t, err)
	host, err := LoadOrCreateHostKeypair(dir)
	require.NoError(t, err)

	assert.NotEqual(t, client.PublicKeyLine, host.PublicKeyLine)
}

func TestAppendKnownHosts(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, AppendKnownHosts(dir, "host1 ssh-ed25519 AAAA"))
	require.NoError(t, AppendKnownHosts(dir, "host2 ssh-ed25519 BBBB"))

	data, err := os.ReadFile(filepath.Join(dir, "known_hosts"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "host1 ssh-ed25519 AAAA")
	assert.Contains(t, string(data), "host2 ssh-ed25519 BBBB")
}
