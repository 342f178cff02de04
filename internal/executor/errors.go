package executor

import "fmt"

// LaunchError reports that a command could not be started at all: the shell
// or the program is missing, not executable, or the working directory is bad.
// It is the only execution failure that produces no Result.
type LaunchError struct {
	// Command is the command line that could not be launched.
	Command string

	// Reason is a short human-readable cause ("command not found").
	Reason string

	// Err is the underlying error, if any.
	Err error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot launch %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot launch %q: %s", e.Command, e.Reason)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
