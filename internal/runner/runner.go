// Package runner coordinates one cg invocation from start to finish: it
// captures the command's output into the store, executes the command, reduces
// the output to the context budget, summarizes it, and records the outcome.
//
// Only a launch failure ends a run without a Result. Every other problem
// (timeout, a failed output file, an unreachable backend) is reported as a
// warning on the Result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ctxguard/cg/internal/budget"
	"github.com/ctxguard/cg/internal/config"
	"github.com/ctxguard/cg/internal/executor"
	"github.com/ctxguard/cg/internal/history"
	"github.com/ctxguard/cg/internal/logging"
	"github.com/ctxguard/cg/internal/outstore"
	"github.com/ctxguard/cg/internal/result"
	"github.com/ctxguard/cg/internal/summarize"
	"github.com/ctxguard/cg/internal/sysinfo"
)

// recentLimit caps how many earlier commands are listed in the prompt.
const recentLimit = 10

// Request describes one invocation.
type Request struct {
	// Args is the command line to run.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Timeout overrides timeout_seconds from the configuration when positive.
	Timeout time.Duration
}

// Runner processes invocations with a fixed configuration.
type Runner struct {
	cfg        *config.Config
	executor   *executor.Executor
	summarizer *summarize.Summarizer
	logger     *slog.Logger

	// hostLine describes the machine for the prompt.
	hostLine func(ctx context.Context) string

	now func() time.Time
}

// New creates a Runner that summarizes through the backend named in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	provider, err := summarize.NewProvider(summarize.Options{
		Type:            cfg.Provider.Type,
		URL:             cfg.Provider.URL,
		Model:           cfg.Provider.Model,
		APIKey:          cfg.APIKey(),
		Timeout:         time.Duration(cfg.ProviderTimeoutSeconds()) * time.Second,
		MaxRetries:      cfg.Provider.MaxRetries,
		Temperature:     cfg.Provider.Temperature,
		MaxOutputTokens: cfg.Provider.MaxOutputTokens,
		Logger:          logging.WithComponent(logger, "summarize"),
	})
	if err != nil {
		return nil, fmt.Errorf("create summarization provider: %w", err)
	}
	return NewWithProvider(cfg, provider, logger), nil
}

// NewWithProvider creates a Runner that summarizes through provider.
func NewWithProvider(cfg *config.Config, provider summarize.Provider, logger *slog.Logger) *Runner {
	ex := executor.New(logging.WithComponent(logger, "executor"))
	ex.Shell = cfg.Shell
	ex.KillGrace = time.Duration(cfg.KillGraceSeconds) * time.Second
	ex.PTY = cfg.PTY

	for _, problem := range summarize.CheckTemplate(cfg.Provider.Prompt) {
		logger.Warn("summary prompt template", slog.String("problem", problem))
	}

	return &Runner{
		cfg:        cfg,
		executor:   ex,
		summarizer: summarize.New(provider, logging.WithComponent(logger, "summarize")),
		logger:     logging.WithComponent(logger, "runner"),
		hostLine:   sysinfo.HostLine,
		now:        time.Now,
	}
}

// Run executes the request and returns its Result. The error is non-nil only
// when the command could not be launched; it is then a *executor.LaunchError.
func (r *Runner) Run(ctx context.Context, req Request) (result.Result, error) {
	command := executor.JoinArgs(req.Args)
	startedAt := r.now()
	logger := r.logger.With(slog.String("command", command))

	store := outstore.Open(outstore.Options{
		Dir:           r.cfg.TempDir,
		Command:       command,
		Now:           startedAt,
		MemoryLimit:   r.cfg.MemoryLimit,
		DegradedLimit: r.cfg.DegradedLimit,
		MinFreeBytes:  r.cfg.MinFreeBytes,
		Logger:        logging.WithComponent(r.logger, "outstore"),
	})
	defer store.Close()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.TimeoutSeconds) * time.Second
	}

	inv, err := r.executor.Execute(ctx, executor.Request{
		Args:    req.Args,
		Dir:     req.Dir,
		Timeout: timeout,
		Stdout:  store.Writer(outstore.Stdout),
		Stderr:  store.Writer(outstore.Stderr),
	})
	if err != nil {
		store.Close()
		r.discard(store)
		return result.Result{}, err
	}

	if err := store.Close(); err != nil {
		logger.Warn("output file incomplete", slog.String("error", err.Error()))
	}

	logger.Info("command finished",
		slog.Int("exit_code", inv.ExitCode),
		slog.String("status", inv.Status.String()),
		slog.Duration("elapsed", inv.Duration()),
		slog.Int64("bytes", store.Size()),
	)

	words := r.cfg.SummaryWords(command)
	sumReq := summarize.Request{
		Command:      command,
		ExitCode:     inv.ExitCode,
		Succeeded:    inv.Succeeded(),
		Elapsed:      inv.Duration(),
		SummaryWords: words,
		Threshold:    r.cfg.OutputLengthThreshold(command),
		Disabled:     r.cfg.SummaryDisabled(command),
		Template:     r.cfg.Provider.Prompt,
	}
	sum := r.summarize(ctx, store, inv, &sumReq, startedAt)

	res := result.Compose(result.Input{
		Invocation:   inv,
		OutputPath:   store.Path(),
		OutputSize:   store.Size(),
		PersistErr:   store.PersistErr(),
		Dropped:      store.Dropped(),
		Summary:      sum,
		SummaryWords: words,
		Slice:        sumReq.Slice,
	})

	r.writeMeta(store, inv, res)
	r.record(inv, store.Path())

	return res, nil
}

// summarize reduces the output and produces its summary. The host line and
// recent commands are only gathered once a prompt is actually needed, and
// the output is reduced again when they leave less room than the first pass
// assumed. req.Slice holds the slice the summary was made from, or nil when
// the output could not be read back.
func (r *Runner) summarize(ctx context.Context, store *outstore.Store, inv *executor.Invocation, req *summarize.Request, startedAt time.Time) summarize.Summary {
	slice, err := r.reduce(store, inv, r.budgetFor(summarize.PromptOverhead(*req)))
	if err != nil {
		r.logger.Error("failed to reduce output", slog.String("error", err.Error()))
		return summarize.Summary{Kind: summarize.KindFallback}
	}
	req.Slice = slice

	if sum, ok := summarize.Shortcut(*req); ok {
		return sum
	}

	req.Host = r.hostLine(ctx)
	req.Recent = r.recent(startedAt)

	if limit := r.budgetFor(summarize.PromptOverhead(*req)); slice.RenderedSize() > limit {
		slice, err = r.reduce(store, inv, limit)
		if err != nil {
			r.logger.Error("failed to reduce output", slog.String("error", err.Error()))
			req.Slice = nil
			return summarize.Summary{Kind: summarize.KindFallback}
		}
		req.Slice = slice
	}

	return r.summarizer.Summarize(ctx, *req)
}

// budgetFor returns the output budget in bytes for a prompt whose text
// outside the output takes promptBytes.
func (r *Runner) budgetFor(promptBytes int) int64 {
	window := budget.Window{
		ContextWindow:  r.cfg.ContextWindow,
		Factor:         r.cfg.BudgetFactor,
		ReservedTokens: r.cfg.Provider.MaxOutputTokens,
		PromptBytes:    promptBytes,
		BytesPerToken:  r.cfg.Budget.BytesPerToken,
		Explicit:       int64(r.cfg.BudgetBytes),
	}
	return window.Bytes()
}

// reduce reads the captured output back and cuts it down to limit bytes.
func (r *Runner) reduce(store *outstore.Store, inv *executor.Invocation, limit int64) (*budget.Slice, error) {
	src, err := store.Source()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	policy := budget.Policy{
		Budget:          limit,
		HeadShare:       r.cfg.Budget.HeadShare,
		TailShare:       r.cfg.Budget.TailShare,
		AnchorShare:     r.cfg.Budget.AnchorShare,
		Samples:         r.cfg.Budget.Samples,
		AnchorOnSuccess: r.cfg.Budget.AnchorOnSuccess,
	}
	return budget.Reduce(src, src.Size(), inv.Failed(), policy)
}

func (r *Runner) writeMeta(store *outstore.Store, inv *executor.Invocation, res result.Result) {
	path := store.Path()
	if path == "" || store.PersistErr() != nil {
		return
	}
	meta := &outstore.Meta{
		Command:     inv.Command,
		Dir:         inv.Dir,
		ExitCode:    inv.ExitCode,
		Status:      inv.Status.String(),
		StartedAt:   inv.StartedAt,
		EndedAt:     inv.EndedAt,
		Size:        store.Size(),
		Dropped:     store.Dropped(),
		Summary:     res.Summary(),
		SummaryKind: string(res.SummaryKind()),
		Truncated:   res.Truncated(),
		Warnings:    res.WarningStrings(),
		Chunks:      store.Chunks(),
	}
	if err := outstore.WriteMeta(path, meta); err != nil {
		r.logger.Warn("failed to write metadata", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// discard removes the empty output file of a command that never started.
func (r *Runner) discard(store *outstore.Store) {
	path := store.Path()
	if path == "" || store.Size() > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		r.logger.Debug("failed to remove unused output file", slog.String("error", err.Error()))
	}
}

// historyPath is where the command history lives. It shares the directory of
// the output files so a single location holds everything cg writes per run.
func (r *Runner) historyPath() string {
	return filepath.Join(r.cfg.TempDir, history.DBName)
}

// withHistory opens the history database for the duration of fn. When another
// cg process holds it, fn is skipped.
func (r *Runner) withHistory(fn func(h *history.History) error) {
	h, err := history.Open(r.historyPath())
	if err != nil {
		r.logger.Debug("history unavailable", slog.String("error", err.Error()))
		return
	}
	defer h.Close()

	if err := fn(h); err != nil {
		r.logger.Warn("history update failed", slog.String("error", err.Error()))
	}
}

// recent returns the commands run within command_context_minutes before now.
func (r *Runner) recent(now time.Time) []summarize.RecentCommand {
	if r.cfg.CommandContextMinutes <= 0 {
		return nil
	}

	var out []summarize.RecentCommand
	r.withHistory(func(h *history.History) error {
		since := now.Add(-time.Duration(r.cfg.CommandContextMinutes) * time.Minute)
		entries, err := h.Recent(since, recentLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			out = append(out, summarize.RecentCommand{Command: e.Command, ExitCode: e.ExitCode})
		}
		return nil
	})
	return out
}

// record appends the invocation to the history and runs retention cleanup
// when the cleanup schedule says it is due.
func (r *Runner) record(inv *executor.Invocation, outputPath string) {
	r.withHistory(func(h *history.History) error {
		err := h.Record(&history.Entry{
			Command:    inv.Command,
			Dir:        inv.Dir,
			ExitCode:   inv.ExitCode,
			FinishedAt: inv.EndedAt,
			OutputPath: outputPath,
		})
		return errors.Join(err, r.cleanup(h))
	})
}

func (r *Runner) cleanup(h *history.History) error {
	if r.cfg.CleanUpDays <= 0 {
		return nil
	}

	now := r.now()
	due, err := h.CleanupDue(r.cfg.CleanUpSchedule, now)
	if err != nil || !due {
		return err
	}

	cutoff := now.AddDate(0, 0, -r.cfg.CleanUpDays)
	removed, cleanErr := outstore.Cleanup(r.cfg.TempDir, cutoff)
	pruned, pruneErr := h.Prune(cutoff)
	kept, countErr := h.Count()

	r.logger.Info("retention cleanup",
		slog.Int("files_removed", removed),
		slog.Int("history_pruned", pruned),
		slog.Int("history_entries", kept),
		slog.Time("cutoff", cutoff),
	)

	return errors.Join(cleanErr, pruneErr, countErr, h.MarkCleanup(now))
}
