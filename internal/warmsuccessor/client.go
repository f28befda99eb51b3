package warmsuccessor

import (
	"net"
	"os"
	"time"

	"muster/pkg/logging"
)

const subsystem = "WarmSuccessor"

// dialTimeout bounds how long the client waits for a replacement to accept
// the connection; a replacement that's mid-exit (idle timeout race) should
// fail fast rather than hang the invocation.
const dialTimeout = 500 * time.Millisecond

// TryHandoff attempts the warm path described in §4.3: dial the entry
// point's socket, hand off argv/env/cwd and this process's stdio, then block
// for the exit code. handled is false when no warm server is present or the
// connection was refused, in which case the caller must run the command
// itself (the cold path) and should call SpawnSuccessor afterward.
func TryHandoff(entryPoint string, argv, env []string, cwd string) (handled bool, exitCode int, err error) {
	path := SocketPath(entryPoint)
	raw, dialErr := net.DialTimeout("unix", path, dialTimeout)
	if dialErr != nil {
		return false, 0, nil
	}
	conn, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return false, 0, nil
	}
	defer conn.Close()

	if err := sendInvocation(conn, invocation{Argv: argv, Env: env, Cwd: cwd}, os.Stdin, os.Stdout, os.Stderr); err != nil {
		logging.Debug(subsystem, "warm handoff send failed, falling back to cold path: %v", err)
		return false, 0, nil
	}

	code, err := readExitCode(conn)
	if err != nil {
		return false, 0, nil
	}
	return true, code, nil
}
