// Package sshsetup builds the shell commands that bootstrap a raw
// container or VM into a host the rest of the manager can reach over SSH
// (§4.11, C9). Every builder here is a pure function of its arguments —
// ported directly from the behavior of
// original_source/libs/mngr/imbue/mngr/providers/ssh_host_setup.py — so
// every backend provider (SSH, container, serverless) can share one
// bootstrap protocol instead of reimplementing it per transport.
package sshsetup

import (
	"fmt"
	"strings"
)

// WarningPrefix tags a line of setup-step output that should be surfaced to
// the user as a warning rather than treated as routine informational noise.
const WarningPrefix = "MNGR_WARN:"

// UserSSHDir returns the SSH config directory for user: /root/.ssh for
// root, /home/<user>/.ssh otherwise.
func UserSSHDir(user string) string {
	if user == "root" {
		return "/root/.ssh"
	}
	return fmt.Sprintf("/home/%s/.ssh", user)
}

// requiredPackage names one package the bootstrap checks for and, per
// BuildCheckAndInstallPackagesCommand, installs if missing.
type requiredPackage struct {
	checkCommand string
	aptPackage   string
	reason       string
}

var requiredPackages = []requiredPackage{
	{checkCommand: "test -x /usr/sbin/sshd", aptPackage: "openssh-server", reason: "openssh-server"},
	{checkCommand: "command -v tmux >/dev/null 2>&1", aptPackage: "tmux", reason: "tmux"},
	{checkCommand: "command -v curl >/dev/null 2>&1", aptPackage: "curl", reason: "curl"},
	{checkCommand: "command -v rsync >/dev/null 2>&1", aptPackage: "rsync", reason: "rsync"},
	{checkCommand: "command -v git >/dev/null 2>&1", aptPackage: "git", reason: "git"},
	{checkCommand: "command -v jq >/dev/null 2>&1", aptPackage: "jq", reason: "jq (required for activity_watcher.sh to read data.json)"},
}

// BuildCheckAndInstallPackagesCommand returns one shell command that, for
// each of {sshd, tmux, curl, rsync, git, jq}, tests its presence, prints
// MNGR_WARN: for any missing package, installs all missing packages in a
// single apt-get call, and creates /run/sshd and mngrHostDir.
func BuildCheckAndInstallPackagesCommand(mngrHostDir string) string {
	lines := []string{`PKGS_TO_INSTALL=''`}
	for _, pkg := range requiredPackages {
		lines = append(lines, fmt.Sprintf(
			"if ! %s; then echo '%s%s is not pre-installed in the base image. Installing at runtime. For faster startup, consider using an image with %s pre-installed.'; PKGS_TO_INSTALL=\"$PKGS_TO_INSTALL %s\"; fi",
			pkg.checkCommand, WarningPrefix, pkg.reason, pkg.reason, pkg.aptPackage,
		))
	}
	lines = append(lines,
		`if [ -n "$PKGS_TO_INSTALL" ]; then apt-get update -qq && apt-get install -y -qq $PKGS_TO_INSTALL; fi`,
		`mkdir -p /run/sshd`,
		fmt.Sprintf("mkdir -p %s", mngrHostDir),
	)
	return strings.Join(lines, "; ")
}

// shQuote wraps s in single quotes, escaping any embedded single quote as
// '"'"' — the same trick ssh_host_setup.py uses.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// BuildConfigureSSHCommand returns a shell command that writes
// clientPublicKey into user's authorized_keys, replaces any existing SSH
// host keys with (hostPrivateKey, hostPublicKey), and sets 600/644 modes.
func BuildConfigureSSHCommand(user, clientPublicKey, hostPrivateKey, hostPublicKey string) string {
	sshDir := UserSSHDir(user)
	authorizedKeysPath := sshDir + "/authorized_keys"

	lines := []string{
		fmt.Sprintf("mkdir -p %s", shQuote(sshDir)),
		fmt.Sprintf("printf '%%s' %s > %s", shQuote(clientPublicKey), shQuote(authorizedKeysPath)),
		fmt.Sprintf("chmod 600 %s", shQuote(authorizedKeysPath)),
		"rm -f /etc/ssh/ssh_host_*",
		fmt.Sprintf("printf '%%s' %s > /etc/ssh/ssh_host_ed25519_key", shQuote(hostPrivateKey)),
		fmt.Sprintf("printf '%%s' %s > /etc/ssh/ssh_host_ed25519_key.pub", shQuote(hostPublicKey)),
		"chmod 600 /etc/ssh/ssh_host_ed25519_key",
		"chmod 644 /etc/ssh/ssh_host_ed25519_key.pub",
	}
	return strings.Join(lines, "; ")
}

// BuildAddKnownHostsCommand returns a shell command that appends each entry
// (a full known_hosts line) to user's known_hosts file with 600 mode, or
// "" if there are no entries.
func BuildAddKnownHostsCommand(user string, knownHostsEntries []string) string {
	if len(knownHostsEntries) == 0 {
		return ""
	}
	sshDir := UserSSHDir(user)
	knownHostsPath := sshDir + "/known_hosts"

	lines := []string{fmt.Sprintf("mkdir -p %s", shQuote(sshDir))}
	for _, entry := range knownHostsEntries {
		lines = append(lines, fmt.Sprintf("printf '%%s\\n' %s >> %s", shQuote(entry), shQuote(knownHostsPath)))
	}
	lines = append(lines, fmt.Sprintf("chmod 600 %s", shQuote(knownHostsPath)))
	return strings.Join(lines, "; ")
}

// ParseWarningsFromOutput extracts every MNGR_WARN:-prefixed line's message
// from a setup step's combined output; non-matching lines are ignored as
// merely informational, per §4.11's output-parsing rule.
func ParseWarningsFromOutput(output string) []string {
	var warnings []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, WarningPrefix) {
			msg := strings.TrimSpace(strings.TrimPrefix(line, WarningPrefix))
			if msg != "" {
				warnings = append(warnings, msg)
			}
		}
	}
	return warnings
}

// BuildStartActivityWatcherCommand returns a shell command that writes
// watcherScript (the embedded activity-watcher resource) to
// <mngrHostDir>/commands/activity_watcher.sh, makes it executable, and
// launches it detached with output redirected to
// <mngrHostDir>/logs/activity_watcher.log.
func BuildStartActivityWatcherCommand(mngrHostDir, watcherScript string) string {
	scriptPath := mngrHostDir + "/commands/activity_watcher.sh"
	logPath := mngrHostDir + "/logs/activity_watcher.log"

	lines := []string{
		fmt.Sprintf("mkdir -p %s", shQuote(mngrHostDir+"/commands")),
		fmt.Sprintf("mkdir -p %s", shQuote(mngrHostDir+"/logs")),
		fmt.Sprintf("printf '%%s' %s > %s", shQuote(watcherScript), shQuote(scriptPath)),
		fmt.Sprintf("chmod +x %s", shQuote(scriptPath)),
		fmt.Sprintf("nohup %s %s > %s 2>&1 &", shQuote(scriptPath), shQuote(mngrHostDir), shQuote(logPath)),
	}
	return strings.Join(lines, "; ")
}

// SSHBannerPrefix is what the generic layer waits to see on the SSH port
// before treating a host as RUNNING (§4.11: "waits for the TCP port to
// present a banner starting with SSH-").
const SSHBannerPrefix = "SSH-"
