package warmsuccessor

import (
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"muster/pkg/logging"
)

// Handler runs the real CLI entry point against one handed-off invocation
// and returns its process exit code.
type Handler func(argv, env []string, cwd string, stdin, stdout, stderr *os.File) int

// Config configures one replacement server's lifetime.
type Config struct {
	// EntryPointName namespaces the socket path (see SocketPath).
	EntryPointName string
	// IdleTimeout overrides DefaultIdleTimeoutSeconds.
	IdleTimeout time.Duration
	// Run is invoked once, for the single client this server accepts.
	Run Handler
}

// Serve binds this replacement's socket and waits for exactly one client
// (§4.3: a replacement serves one invocation, then exits after spawning its
// own successor). It returns nil both when a client was served and when the
// idle timeout elapsed unaccepted — both are ordinary shutdowns, not errors.
// It returns an error only if the exclusive bind itself failed, in which
// case the caller should exit silently per "preserving the existing warm
// server".
func Serve(cfg Config) error {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeoutSeconds * time.Second
	}
	path := SocketPath(cfg.EntryPointName)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	ln, err := listenExclusive(path)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer os.Remove(path)

	// Ignore interrupts until a client is accepted, so Ctrl-C aimed at the
	// invocation that's about to connect doesn't kill the idle replacement
	// out from under it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	unixLn := ln.(*net.UnixListener)
	_ = unixLn.SetDeadline(time.Now().Add(cfg.IdleTimeout))
	raw, acceptErr := unixLn.Accept()
	if acceptErr != nil {
		logging.Debug(subsystem, "replacement for %s idle-timed-out unaccepted", cfg.EntryPointName)
		return nil
	}
	conn := raw.(*net.UnixConn)
	defer conn.Close()

	signal.Stop(sigCh)
	signal.Reset(os.Interrupt)

	inv, files, err := recvInvocation(conn)
	if err != nil {
		logging.Warn(subsystem, "receiving handed-off invocation: %v", err)
		return nil
	}
	defer files[0].Close()
	defer files[1].Close()
	defer files[2].Close()

	// Immediately fork the next replacement so this process is never the
	// last warm server (§4.3). A bind failure there just means a
	// replacement is already racing us to start; we keep serving this
	// client regardless.
	if spawnErr := SpawnSuccessor(cfg.EntryPointName); spawnErr != nil {
		logging.Debug(subsystem, "spawning next replacement for %s: %v", cfg.EntryPointName, spawnErr)
	}

	code := cfg.Run(inv.Argv, inv.Env, inv.Cwd, files[0], files[1], files[2])
	if err := writeExitCode(conn, code); err != nil {
		logging.Warn(subsystem, "writing exit code back to client: %v", err)
	}
	return nil
}

// listenExclusive binds path, first clearing a stale socket left by a
// replacement that crashed without cleaning up (a live socket always
// accepts, so a connect-refused/timeout probe distinguishes stale from
// live before unlinking).
func listenExclusive(path string) (net.Listener, error) {
	if probeConn, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
		probeConn.Close()
		return nil, syscall.EADDRINUSE
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}
