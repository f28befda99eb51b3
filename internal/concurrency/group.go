// Package concurrency implements the scoped container every CLI invocation
// uses to supervise its child processes: a Group owns a shared shutdown
// flag, tracks every RunningProcess spawned within it, and on exit drives
// cooperative shutdown followed by a forced kill for stragglers.
package concurrency

import (
	"context"
	"sync"
	"time"

	"muster/internal/process"
	"muster/pkg/logging"
)

// DefaultShutdownTimeout is how long Close waits for children to exit
// gracefully before killing them.
const DefaultShutdownTimeout = 30 * time.Second

// Group is a scope that owns a set of child processes for the lifetime of
// one command invocation.
type Group struct {
	mu              sync.Mutex
	shutdown        *process.ShutdownEvent
	shutdownTimeout time.Duration
	children        []*RunningProcess
	closed          bool
}

// New creates a Group with its own shutdown event. Install a signal handler
// that calls Shutdown on the returned Group's ShutdownEvent; nothing else
// in the process should install its own OS signal handler — one handler
// owns the shutdown event, everyone else polls it.
func New() *Group {
	return &Group{
		shutdown:        process.NewShutdownEvent(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// ShutdownEvent returns the group's shared shutdown flag.
func (g *Group) ShutdownEvent() *process.ShutdownEvent {
	return g.shutdown
}

// Shutdown requests cooperative shutdown of every child in the group.
func (g *Group) Shutdown() {
	g.shutdown.Set()
}

// SetShutdownTimeout overrides DefaultShutdownTimeout.
func (g *Group) SetShutdownTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownTimeout = d
}

// RunToCompletion runs command synchronously within the group, sharing the
// group's shutdown event, and returns once it reaches a terminal state.
func (g *Group) RunToCompletion(ctx context.Context, opts process.Options) (*process.FinishedProcess, error) {
	opts.ShutdownEvent = g.shutdown
	return process.Run(ctx, opts)
}

// RunBackground starts command without blocking and registers it with the
// group so Close will supervise its shutdown.
func (g *Group) RunBackground(ctx context.Context, opts process.Options) *RunningProcess {
	opts.ShutdownEvent = g.shutdown

	rp := &RunningProcess{
		command: opts.Command,
		done:    make(chan struct{}),
		lines:   make(chan Line, 256),
	}
	opts.LineCallback = func(line string, isStdout bool) {
		select {
		case rp.lines <- Line{Text: line, IsStdout: isStdout}:
		default:
			// Slow consumer: drop rather than block the child's own reader.
			logging.Warn("ConcurrencyGroup", "dropping output line for %v, consumer too slow", opts.Command)
		}
	}

	g.mu.Lock()
	g.children = append(g.children, rp)
	g.mu.Unlock()

	go func() {
		result, err := process.Run(ctx, opts)
		rp.mu.Lock()
		rp.result = result
		rp.err = err
		rp.mu.Unlock()
		close(rp.lines)
		close(rp.done)
	}()

	return rp
}

// Close waits up to the shutdown timeout for every still-running child,
// then kills stragglers. It is safe to call Close more than once. Every
// child either exits cleanly or has shutdown attempted on it — Close never
// returns while a child is unaccounted for, though a child that refuses to
// die under a timeout is abandoned per the supervisor's fallback.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	children := append([]*RunningProcess(nil), g.children...)
	timeout := g.shutdownTimeout
	g.mu.Unlock()

	g.shutdown.Set()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *RunningProcess) {
			defer wg.Done()
			select {
			case <-c.done:
			case <-time.After(timeout):
				logging.Warn("ConcurrencyGroup", "child %v still running after %s shutdown window", c.command, timeout)
			}
		}(c)
	}
	wg.Wait()
}
