package warmsuccessor

import (
	"os"
	"os/exec"
	"syscall"
)

// WarmServerEnvVar, when set in a process's environment, names the entry
// point whose replacement server that process should run instead of
// dispatching the CLI normally. The cmd/ entry point checks this before any
// other startup work.
const WarmServerEnvVar = "MNGR_WARM_SERVER_ENTRY_POINT"

// SpawnSuccessor launches the next replacement server for entryPoint and
// does not wait for it. Go cannot safely fork() a running multi-threaded
// runtime, so this re-executes the current binary in a new session in
// place of the traditional double-fork: Setsid detaches it from this
// process's controlling terminal and session, and because the child is
// never waited on, it is reparented to init the moment this process exits,
// satisfying the same "does not become a zombie" requirement a double-fork
// exists for (§4.3).
//
// The replacement inherits no file descriptors beyond a fresh /dev/null
// stdio triple; os/exec never passes this process's other open descriptors
// to a child unless explicitly added via ExtraFiles, so the "close every
// inherited fd >= 3" invariant holds without extra work here.
func SpawnSuccessor(entryPoint string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	cmd := exec.Command(exe)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), WarmServerEnvVar+"="+entryPoint)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	return cmd.Start()
}
