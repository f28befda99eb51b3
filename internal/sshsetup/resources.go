package sshsetup

import _ "embed"

// ActivityWatcherScript is the on-host watcher launched by
// BuildStartActivityWatcherCommand; see resources/activity_watcher.sh.
//
//go:embed resources/activity_watcher.sh
var ActivityWatcherScript string
