// resolver_test.go tests launch pre-checks and the program lookup cache.
package executor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestResolverCheck(t *testing.T) {
	dir := t.TempDir()

	script := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ok\n"), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	plain := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(plain, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name    string
		command string
		dir     string
		wantErr string
	}{
		{name: "program on path", command: "ls -la"},
		{name: "builtin exit", command: "exit 1"},
		{name: "builtin cd", command: "cd /tmp && ls"},
		{name: "keyword if", command: "if true; then echo y; fi"},
		{name: "assignment prefix", command: "FOO=bar env"},
		{name: "subshell", command: "(echo hi)"},
		{name: "absolute script", command: script},
		{name: "relative script in dir", command: "./run.sh", dir: dir},
		{name: "empty", command: "   ", wantErr: "empty command"},
		{name: "missing program", command: "definitely-not-a-real-program-xyz --help", wantErr: "command not found"},
		{name: "missing path", command: filepath.Join(dir, "nope"), wantErr: "no such file"},
		{name: "not executable", command: plain, wantErr: "permission denied"},
		{name: "directory as program", command: dir, wantErr: "is a directory"},
		{name: "missing dir", command: "ls", dir: filepath.Join(dir, "gone"), wantErr: "working directory"},
		{name: "dir is a file", command: "ls", dir: plain, wantErr: "not a directory"},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shellPath, err := r.Check("sh", tt.command, tt.dir)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if shellPath == "" {
					t.Fatal("expected shell path")
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			var launchErr *LaunchError
			if !errors.As(err, &launchErr) {
				t.Fatalf("expected *LaunchError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestResolverCheck_BashBuiltins(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not installed")
	}

	tests := []struct {
		name    string
		command string
		wantErr string
	}{
		{name: "declare", command: "declare -p HOME"},
		{name: "let", command: "let x=1+1"},
		{name: "pushd", command: "pushd /tmp"},
		{name: "shopt", command: "shopt -s nullglob"},
		{name: "typeset", command: "typeset y=1"},
		{name: "mapfile", command: "mapfile -t lines < /etc/hostname"},
		{name: "missing program", command: "definitely-not-a-real-program-xyz", wantErr: "command not found"},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Check("/bin/bash", tt.command, "")
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolverShellKnows(t *testing.T) {
	r := NewResolver()
	shellPath, err := r.LookPath("sh")
	if err != nil {
		t.Fatalf("lookup sh: %v", err)
	}

	// Builtins outside the static list are accepted through the shell.
	if !r.shellKnows(shellPath, "umask", "") {
		t.Error("expected sh to know umask")
	}
	if r.shellKnows(shellPath, "definitely-not-a-real-program-xyz", "") {
		t.Error("unknown word accepted")
	}
	if r.shellKnows(shellPath, "-x", "") {
		t.Error("option-like word accepted")
	}

	r.mu.RLock()
	_, cached := r.known[shellPath+"\x00umask"]
	r.mu.RUnlock()
	if !cached {
		t.Error("expected positive answer to be cached")
	}
}

func TestResolverCheck_MissingShell(t *testing.T) {
	r := NewResolver()
	_, err := r.Check("no-such-shell-abc", "echo hi", "")
	if err == nil {
		t.Fatal("expected error for missing shell")
	}
	if !strings.Contains(err.Error(), "shell no-such-shell-abc not available") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolverLookPath_Caching(t *testing.T) {
	r := NewResolver()

	path1, err := r.LookPath("sh")
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	path2, err := r.LookPath("sh")
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if path1 != path2 {
		t.Errorf("cached path mismatch: %s vs %s", path1, path2)
	}

	r.mu.RLock()
	_, cached := r.cache["sh"]
	r.mu.RUnlock()
	if !cached {
		t.Error("expected sh to be cached")
	}
}

func TestResolverLookPath_Concurrent(t *testing.T) {
	r := NewResolver()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.LookPath("sh"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent lookup failed: %v", err)
	}
}

func TestFirstWord(t *testing.T) {
	tests := map[string]string{
		"ls -la":       "ls",
		"  cargo test": "cargo",
		"":             "",
		"\techo\tx":    "echo",
	}
	for in, want := range tests {
		if got := firstWord(in); got != want {
			t.Errorf("firstWord(%q) = %q, want %q", in, got, want)
		}
	}
}
