// invocation.go defines the record of one command execution.
// It captures what was run, where, when, and how it ended, and is handed
// read-only to the budgeting and summarization stages once the process exits.
package executor

import (
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Exit codes reported for executions that did not end with a normal exit.
const (
	// ExitCodeTimedOut matches timeout(1) so callers can script against it.
	ExitCodeTimedOut = 124

	// exitCodeSignalBase is added to the signal number for signaled processes.
	exitCodeSignalBase = 128
)

// Status describes how an invocation ended.
type Status int

const (
	// StatusExited means the process exited on its own.
	StatusExited Status = iota

	// StatusSignaled means the process was terminated by a signal it did not
	// receive from the timeout path (for example Ctrl-C forwarded to the group).
	StatusSignaled

	// StatusTimedOut means the process exceeded its timeout and was terminated.
	StatusTimedOut
)

// String returns the lower-case status name used in metadata and JSON output.
func (s Status) String() string {
	switch s {
	case StatusExited:
		return "exited"
	case StatusSignaled:
		return "signaled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Invocation holds the outcome of a command execution.
type Invocation struct {
	// Args is the command line as received, one element per argument.
	Args []string `json:"args"`

	// Command is Args joined with spaces, as passed to the shell.
	Command string `json:"command"`

	// Dir is the working directory the command ran in.
	Dir string `json:"dir"`

	// PID is the process ID of the shell running the command.
	PID int `json:"pid"`

	// StartedAt is when the process was started.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the process was reaped.
	EndedAt time.Time `json:"ended_at"`

	// ExitCode is the process exit code. 124 for timeouts, 128+N for signal N.
	ExitCode int `json:"exit_code"`

	// Status records whether the process exited, was signaled, or timed out.
	Status Status `json:"status"`

	// Signal is the terminating signal when Status is StatusSignaled or the
	// timeout path had to kill the process.
	Signal syscall.Signal `json:"signal,omitempty"`
}

// Duration returns the wall time between start and end.
func (inv *Invocation) Duration() time.Duration {
	return inv.EndedAt.Sub(inv.StartedAt)
}

// Succeeded reports whether the command exited with code 0.
func (inv *Invocation) Succeeded() bool {
	return inv.Status == StatusExited && inv.ExitCode == 0
}

// Failed reports whether the command exited non-zero, was signaled, or timed out.
func (inv *Invocation) Failed() bool {
	return !inv.Succeeded()
}

// JoinArgs turns the argument list into the command string given to the shell.
func JoinArgs(args []string) string {
	return strings.Join(args, " ")
}
