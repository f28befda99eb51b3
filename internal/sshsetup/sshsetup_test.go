package sshsetup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserSSHDir(t *testing.T) {
	assert.Equal(t, "/root/.ssh", UserSSHDir("root"))
	assert.Equal(t, "/home/ubuntu/.ssh", UserSSHDir("ubuntu"))
}

func TestBuildCheckAndInstallPackagesCommand(t *testing.T) {
	cmd := BuildCheckAndInstallPackagesCommand("/opt/mngr")
	assert.Contains(t, cmd, "openssh-server")
	assert.Contains(t, cmd, "mkdir -p /opt/mngr")
	assert.Contains(t, cmd, "mkdir -p /run/sshd")
	assert.Contains(t, cmd, WarningPrefix)
}

func TestBuildConfigureSSHCommandEscapesQuotes(t *testing.T) {
	cmd := BuildConfigureSSHCommand("root", "ssh-ed25519 AAAA it's-a-key", "PRIVATE", "PUBLIC")
	assert.Contains(t, cmd, `it'"'"'s-a-key`)
	assert.Contains(t, cmd, "authorized_keys")
	assert.Contains(t, cmd, "ssh_host_ed25519_key")
}

func TestBuildAddKnownHostsCommandEmpty(t *testing.T) {
	assert.Equal(t, "", BuildAddKnownHostsCommand("root", nil))
}

func TestBuildAddKnownHostsCommand(t *testing.T) {
	cmd := BuildAddKnownHostsCommand("root", []string{"github.com ssh-rsa AAAA"})
	assert.Contains(t, cmd, "known_hosts")
	assert.Contains(t, cmd, "github.com ssh-rsa AAAA")
}

func TestParseWarningsFromOutput(t *testing.T) {
	output := "some line\n" + WarningPrefix + "tmux missing\nanother line\n" + WarningPrefix + " curl missing \n"
	warnings := ParseWarningsFromOutput(output)
	assert.Equal(t, []string{"tmux missing", "curl missing"}, warnings)
}

func TestBuildStartActivityWatcherCommand(t *testing.T) {
	cmd := BuildStartActivityWatcherCommand("/opt/mngr", "#!/bin/sh\necho hi")
	assert.Contains(t, cmd, "activity_watcher.sh")
	assert.Contains(t, cmd, "nohup")
}
