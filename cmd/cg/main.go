// cg - Entry Point
//
// cg runs a shell command on behalf of an AI agent, saves the full output to
// a file, and prints a short summary of the output together with the file
// path, so that the agent's context holds a paragraph instead of megabytes.
//
//	cg [options] <command> [args...]
//
// Flag parsing stops at the first non-flag argument; everything after it is
// the command line. The exit code mirrors the wrapped command: 124 after a
// timeout, 128+N when killed by signal N, and 125 when cg itself fails before
// the command could run (bad configuration, command not found).
//
// A wrapped command may exit 125 itself. The two cases differ on stdout: an
// internal failure prints nothing there and reports on stderr, while a command
// that ran always leaves the summary block with its output_file line.
//
// Configuration is loaded from ~/.ctx_guard/config.yaml, written with
// defaults on first use.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxguard/cg/internal/config"
	"github.com/ctxguard/cg/internal/logging"
	"github.com/ctxguard/cg/internal/result"
	"github.com/ctxguard/cg/internal/runner"
	"github.com/ctxguard/cg/internal/version"
)

// exitCodeInternal is returned when cg fails before producing a result.
const exitCodeInternal = 125

type options struct {
	configPath string
	profile    string
	timeout    time.Duration
	dir        string
	format     string
	logLevel   string
}

// exitStatus carries the wrapped command's exit code out of RunE.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes cg with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var status *exitStatus
	if errors.As(err, &status) {
		return status.code
	}
	fmt.Fprintf(stderr, "cg: %v\n", err)
	return exitCodeInternal
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "cg [options] <command> [args...]",
		Short: "Run a command and print a summary of its output",
		Long: `cg runs a shell command, saves its complete output to a file, and prints a
short summary produced by a language model together with the file path.`,
		Version:       version.Info(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, &opts, args)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "path to configuration file")
	flags.StringVarP(&opts.profile, "profile", "p", "", "configuration profile to apply")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "kill the command after this long (e.g. 90s, 5m)")
	flags.StringVarP(&opts.dir, "dir", "C", "", "run the command in this directory")
	flags.StringVar(&opts.format, "format", string(result.FormatText), "output format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log_level from the configuration")

	return cmd
}

func execute(cmd *cobra.Command, opts *options, args []string) error {
	format, err := result.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	cfg, err := config.LoadOrCreate(opts.configPath, opts.profile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger, closeLog := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	})
	defer closeLog()

	logger.Debug("cg starting",
		slog.String("version", version.Version),
		slog.String("config", opts.configPath),
		slog.String("profile", cfg.Profile),
	)

	r, err := runner.New(cfg, logger)
	if err != nil {
		return err
	}

	res, err := r.Run(cmd.Context(), runner.Request{
		Args:    args,
		Dir:     opts.dir,
		Timeout: opts.timeout,
	})
	if err != nil {
		logger.Error("command could not be launched", slog.String("error", err.Error()))
		return err
	}

	if err := res.Render(cmd.OutOrStdout(), format); err != nil {
		logger.Error("failed to write result", slog.String("error", err.Error()))
	}

	if code := res.ExitCode(); code != 0 {
		return &exitStatus{code: code}
	}
	return nil
}
