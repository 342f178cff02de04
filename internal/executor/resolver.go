// resolver.go checks, before anything is spawned, that a command line can
// actually be launched. It uses exec.LookPath to search $PATH for the shell
// and for the program named by the first word of the command. A first word
// that is not on $PATH is put to the configured shell with `command -v`, so
// builtins of whatever shell is in use are accepted. Only words the shell
// does not know either fail fast with a LaunchError instead of surfacing as
// an ordinary exit code 127.
package executor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// shellWords are builtins and reserved words of POSIX sh, bash and zsh that
// never appear on $PATH but are valid first words. Anything missing here is
// still checked against the shell itself.
var shellWords = map[string]struct{}{
	".": {}, ":": {}, "[": {}, "[[": {}, "!": {}, "{": {},
	"alias": {}, "bg": {}, "break": {}, "case": {}, "cd": {}, "command": {},
	"continue": {}, "do": {}, "done": {}, "echo": {}, "elif": {}, "else": {},
	"esac": {}, "eval": {}, "exec": {}, "exit": {}, "export": {}, "false": {},
	"fc": {}, "fg": {}, "fi": {}, "for": {}, "function": {}, "getopts": {},
	"hash": {}, "if": {}, "in": {}, "jobs": {}, "kill": {}, "local": {},
	"printf": {}, "pwd": {}, "read": {}, "readonly": {}, "return": {},
	"select": {}, "set": {}, "shift": {}, "source": {}, "test": {}, "then": {},
	"time": {}, "times": {}, "trap": {}, "true": {}, "type": {}, "ulimit": {},
	"umask": {}, "unalias": {}, "unset": {}, "until": {}, "wait": {}, "while": {},
	"bind": {}, "builtin": {}, "caller": {}, "compgen": {}, "complete": {},
	"compopt": {}, "coproc": {}, "declare": {}, "dirs": {}, "disown": {},
	"enable": {}, "help": {}, "history": {}, "let": {}, "logout": {},
	"mapfile": {}, "popd": {}, "pushd": {}, "readarray": {}, "shopt": {},
	"suspend": {}, "typeset": {}, "autoload": {}, "setopt": {}, "unsetopt": {},
	"whence": {}, "where": {}, "which": {},
}

// shellSyntax marks a first word the resolver cannot interpret without a
// shell parser (expansions, quoting, redirections, assignments, globs).
const shellSyntax = "$`'\"\\(){};&|<>*?[]~="

// Resolver caches program lookups so repeated checks stay cheap.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]string

	// known holds shell/word pairs the shell itself accepted.
	known map[string]struct{}
}

// NewResolver creates a resolver with an empty lookup cache.
func NewResolver() *Resolver {
	return &Resolver{
		cache: make(map[string]string),
		known: make(map[string]struct{}),
	}
}

// LookPath resolves a program name to an absolute path, caching the result.
func (r *Resolver) LookPath(name string) (string, error) {
	// Check cache first (read lock)
	r.mu.RLock()
	if path, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return path, nil
	}
	r.mu.RUnlock()

	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}

	// Cache for future use (write lock)
	r.mu.Lock()
	r.cache[name] = path
	r.mu.Unlock()

	return path, nil
}

// Check verifies that command can be launched by shell from dir.
// It returns a *LaunchError when the command is empty, the shell or the
// leading program cannot be found or executed, or dir is not a directory.
func (r *Resolver) Check(shell, command, dir string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", &LaunchError{Command: command, Reason: "empty command"}
	}

	shellPath, err := r.LookPath(shell)
	if err != nil {
		return "", &LaunchError{Command: command, Reason: fmt.Sprintf("shell %s not available", shell), Err: err}
	}

	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return "", &LaunchError{Command: command, Reason: "working directory not accessible", Err: err}
		}
		if !info.IsDir() {
			return "", &LaunchError{Command: command, Reason: fmt.Sprintf("working directory %s is not a directory", dir)}
		}
	}

	if err := r.checkProgram(shellPath, firstWord(command), dir); err != nil {
		return "", &LaunchError{Command: command, Reason: err.Error()}
	}

	return shellPath, nil
}

// checkProgram verifies the leading program of a command line. Words the
// resolver cannot judge without a shell are accepted and left to the shell.
func (r *Resolver) checkProgram(shellPath, word, dir string) error {
	if word == "" || strings.ContainsAny(word, shellSyntax) {
		return nil
	}
	if _, ok := shellWords[word]; ok {
		return nil
	}

	if strings.Contains(word, "/") {
		path := word
		if dir != "" && !strings.HasPrefix(path, "/") {
			path = dir + "/" + path
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%s: no such file: %w", word, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s: is a directory", word)
		}
		if info.Mode().Perm()&0111 == 0 {
			return fmt.Errorf("%s: permission denied", word)
		}
		return nil
	}

	if _, err := r.LookPath(word); err != nil {
		if r.shellKnows(shellPath, word, dir) {
			return nil
		}
		return fmt.Errorf("%s: command not found: %w", word, err)
	}
	return nil
}

// shellKnows asks the shell whether it can run word, which covers builtins
// specific to that shell. Positive answers are cached per shell.
func (r *Resolver) shellKnows(shellPath, word, dir string) bool {
	if strings.HasPrefix(word, "-") {
		return false
	}
	key := shellPath + "\x00" + word

	r.mu.RLock()
	_, ok := r.known[key]
	r.mu.RUnlock()
	if ok {
		return true
	}

	cmd := exec.Command(shellPath, "-c", `command -v "$1" >/dev/null 2>&1`, "cg", word)
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		return false
	}

	r.mu.Lock()
	r.known[key] = struct{}{}
	r.mu.Unlock()
	return true
}

// firstWord returns the first whitespace-separated word of a command line.
func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// defaultResolver is the resolver used by executors created with New.
var defaultResolver = NewResolver()
