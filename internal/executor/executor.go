// executor.go implements shell command execution with timeout and process group management.
// The command runs in its own process group; on timeout or cancellation the whole
// group receives SIGTERM and, after a grace period, SIGKILL, so no orphan
// processes outlive the invocation.
package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultKillGrace is the delay between SIGTERM and SIGKILL on timeout.
const DefaultKillGrace = 5 * time.Second

// Executor runs shell commands with timeout and streaming output capture.
type Executor struct {
	// Shell is the shell to use for command execution. Default: /bin/sh
	Shell string

	// KillGrace is how long a terminated process group may take to exit
	// before it is killed. Default: 5s
	KillGrace time.Duration

	// PTY attaches the command's stdout to a pseudo-terminal. Stderr stays a pipe.
	PTY bool

	resolver *Resolver
	logger   *slog.Logger
}

// Request describes one command execution.
type Request struct {
	// Args is the command line. It is joined with spaces and run by the shell.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds KEY=VALUE overrides appended to the inherited environment.
	Env []string

	// Timeout kills the command after this long. Zero means no timeout.
	Timeout time.Duration

	// Stdout and Stderr receive the command's output streams as it arrives.
	// They are written from separate goroutines.
	Stdout io.Writer
	Stderr io.Writer
}

// New creates a new Executor with default settings.
func New(logger *slog.Logger) *Executor {
	return &Executor{
		Shell:     "/bin/sh",
		KillGrace: DefaultKillGrace,
		resolver:  defaultResolver,
		logger:    logger,
	}
}

// Execute runs the request and blocks until the command exits or times out.
//
// It returns a *LaunchError when the command cannot be started; in that case
// no output has been produced. Every other outcome, including non-zero exit,
// signal death and timeout, is reported through the returned Invocation with
// a nil error.
func (e *Executor) Execute(ctx context.Context, req Request) (*Invocation, error) {
	command := JoinArgs(req.Args)

	shellPath, err := e.resolver.Check(e.Shell, command, req.Dir)
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, shellPath, "-c", command)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	// Create new process group so we can signal all children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := writerOrDiscard(req.Stdout)
	cmd.Stderr = writerOrDiscard(req.Stderr)

	var tty *ttyCopier
	if e.PTY {
		tty, err = openTTY(stdout)
		if err != nil {
			e.logger.Warn("pseudo-terminal unavailable, using a pipe for stdout",
				slog.String("error", err.Error()),
			)
		}
	}
	if tty != nil {
		cmd.Stdout = tty.slave
	} else {
		cmd.Stdout = stdout
	}

	grace := e.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	// Terminate the group first; escalate to SIGKILL after the grace period.
	var (
		killMu    sync.Mutex
		killTimer *time.Timer
		cancelled bool
	)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := cmd.Process.Pid
		killMu.Lock()
		cancelled = true
		killTimer = time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		killMu.Unlock()
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}

	// WaitDelay ensures orphaned processes holding our pipes don't block Wait()
	cmd.WaitDelay = grace + time.Second

	inv := &Invocation{
		Args:    append([]string(nil), req.Args...),
		Command: command,
		Dir:     req.Dir,
	}

	inv.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		tty.close()
		return nil, &LaunchError{Command: command, Reason: "start failed", Err: err}
	}
	inv.PID = cmd.Process.Pid
	tty.started()

	e.logger.Debug("command started",
		slog.String("command", command),
		slog.Int("pid", inv.PID),
		slog.Duration("timeout", req.Timeout),
	)

	waitErr := cmd.Wait()
	tty.finish(grace)
	inv.EndedAt = time.Now()

	killMu.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	if cancelled {
		// Reap stragglers that ignored SIGTERM and are still in the group.
		_ = syscall.Kill(-inv.PID, syscall.SIGKILL)
	}
	killMu.Unlock()

	e.classify(inv, cmd, waitErr, execCtx, ctx)

	e.logger.Debug("command finished",
		slog.String("command", command),
		slog.Int("exit_code", inv.ExitCode),
		slog.String("status", inv.Status.String()),
		slog.Duration("duration", inv.Duration()),
	)

	return inv, nil
}

// classify fills exit code and status from the reaped process.
func (e *Executor) classify(inv *Invocation, cmd *exec.Cmd, waitErr error, execCtx, parent context.Context) {
	// Check if timeout occurred
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		inv.Status = StatusTimedOut
		inv.ExitCode = ExitCodeTimedOut
		if ws, ok := waitStatus(cmd); ok && ws.Signaled() {
			inv.Signal = ws.Signal()
		}
		return
	}

	ws, ok := waitStatus(cmd)
	switch {
	case ok && ws.Signaled():
		inv.Status = StatusSignaled
		inv.Signal = ws.Signal()
		inv.ExitCode = exitCodeSignalBase + int(ws.Signal())
	case ok:
		inv.Status = StatusExited
		inv.ExitCode = ws.ExitStatus()
	default:
		// Wait failed without a process state; report it as a generic failure.
		inv.Status = StatusExited
		inv.ExitCode = 1
		if waitErr != nil {
			e.logger.Warn("wait failed without exit status",
				slog.String("error", waitErr.Error()),
			)
		}
	}
}

func waitStatus(cmd *exec.Cmd) (syscall.WaitStatus, bool) {
	if cmd.ProcessState == nil {
		return 0, false
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ws, ok
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// ttyCopier pumps a pseudo-terminal master into the stdout writer.
type ttyCopier struct {
	master *os.File
	slave  *os.File
	done   chan struct{}
}

func openTTY(w io.Writer) (*ttyCopier, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	t := &ttyCopier{master: master, slave: slave, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		// Reading the master fails with EIO once every slave fd is closed;
		// that is the pty's end of stream.
		_, _ = io.Copy(w, master)
	}()
	return t, nil
}

// started closes the parent's copy of the slave so EIO arrives when the child exits.
func (t *ttyCopier) started() {
	if t == nil {
		return
	}
	_ = t.slave.Close()
}

// finish waits for the copier to drain, bounded by grace for grandchildren
// that keep the terminal open.
func (t *ttyCopier) finish(grace time.Duration) {
	if t == nil {
		return
	}
	select {
	case <-t.done:
	case <-time.After(grace):
	}
	_ = t.master.Close()
	<-t.done
}

func (t *ttyCopier) close() {
	if t == nil {
		return
	}
	_ = t.slave.Close()
	_ = t.master.Close()
	<-t.done
}
