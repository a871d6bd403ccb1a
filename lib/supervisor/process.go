package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/sys/unix"
)

// DefaultConfirmWindow is how long a freshly spawned tunnel process must stay
// alive before Start reports success.
const DefaultConfirmWindow = 500 * time.Millisecond

// killGrace bounds the wait for the kernel to reap a process after SIGKILL.
const killGrace = 2 * time.Second

var (
	// ErrExited is returned by Start when the process dies inside the
	// confirmation window. The process handle is still returned so callers can
	// collect its output.
	ErrExited = errors.New("process exited during confirmation window")
	// ErrForceKilled is returned by Stop when the process ignored SIGTERM and
	// had to be killed.
	ErrForceKilled = errors.New("process did not exit after SIGTERM and was killed")
)

// StartOptions describes one tunnel process launch.
type StartOptions struct {
	Binary string
	Args   []string
	// Stdout and Stderr receive process output. Passing an *os.File hands the
	// descriptor straight to the child; anything else is fed by a copy loop.
	Stdout io.Writer
	Stderr io.Writer
	// ConfirmWindow defaults to DefaultConfirmWindow when zero.
	ConfirmWindow time.Duration
}

// Process is a supervised tunnel process.
type Process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

// Start spawns the process and waits out the confirmation window. It returns
// ErrExited, together with the process handle, when the process dies before
// the window elapses. If ctx ends first the process is stopped and ctx's
// error returned. Spawn failures are returned as-is so callers can tell a
// missing binary (IsNotFound) from other failures.
func Start(ctx context.Context, opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Binary, opts.Args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	// children that inherit the pipes must not hold Wait open forever
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}
	go p.wait()

	log.WithFields(logger.Fields{
		"at":     "supervisor.Start",
		"reason": "spawned",
		"binary": opts.Binary,
		"args":   opts.Args,
		"pid":    p.PID(),
	}).Debug("spawned tunnel process")

	window := opts.ConfirmWindow
	if window <= 0 {
		window = DefaultConfirmWindow
	}
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-p.done:
		return p, fmt.Errorf("%w: %v", ErrExited, p.ExitError())
	case <-timer.C:
		return p, nil
	case <-ctx.Done():
		if err := p.Stop(killGrace); err != nil && !errors.Is(err, ErrForceKilled) {
			log.WithError(err).WithField("pid", p.PID()).Warn("failed to stop process after cancelled start")
		}
		return nil, ctx.Err()
	}
}

// IsNotFound reports whether a Start error means the binary does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	if p == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitError returns the error from cmd.Wait, or nil while the process runs or
// after a clean exit.
func (p *Process) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop sends SIGTERM and waits up to timeout for the process to exit, then
// sends SIGKILL. It returns ErrForceKilled when escalation was needed, and a
// different error only if the process could not be signalled at all.
func (p *Process) Stop(timeout time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.WithError(err).WithField("pid", p.PID()).Warn("SIGTERM failed, killing process")
		return p.kill()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	log.WithFields(logger.Fields{
		"at":      "Process.Stop",
		"reason":  "terminate_timeout",
		"pid":     p.PID(),
		"timeout": timeout.String(),
	}).Warn("process ignored SIGTERM, sending SIGKILL")
	if err := p.kill(); err != nil {
		return err
	}
	return ErrForceKilled
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.PID(), err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("pid %d not reaped %s after SIGKILL", p.PID(), killGrace)
	}
}

// StartFirst tries each candidate binary in order, moving on only when the
// launch fails because the binary does not exist. A bare name is resolved
// through PATH by exec. Returns core.ErrBinaryNotFound when every candidate
// is missing.
func StartFirst(ctx context.Context, candidates []string, name string, opts StartOptions) (*Process, error) {
	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		tried = append(tried, c)
		opts.Binary = c
		p, err := Start(ctx, opts)
		if err != nil && IsNotFound(err) {
			log.WithFields(logger.Fields{
				"at":        "supervisor.StartFirst",
				"reason":    "binary_missing",
				"candidate": c,
			}).Debug("candidate binary missing, trying next")
			continue
		}
		return p, err
	}
	return nil, binaryNotFound(name, tried)
}
