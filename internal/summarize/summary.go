package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ctxguard/cg/internal/budget"
)

// Kind says how a summary was produced.
type Kind string

const (
	// KindGenerated is a model-written summary.
	KindGenerated Kind = "generated"

	// KindPassthrough is short output returned verbatim.
	KindPassthrough Kind = "passthrough"

	// KindEmpty is the fixed text for a command that printed nothing.
	KindEmpty Kind = "empty"

	// KindFallback means the backend failed; the text is built mechanically.
	KindFallback Kind = "fallback"

	// KindDisabled means summarization is turned off for the command.
	KindDisabled Kind = "disabled"
)

// Summary is the outcome of summarization.
type Summary struct {
	Text    string
	Words   int
	Latency time.Duration
	Kind    Kind

	// OverBudget is set when a generated summary exceeds the word target.
	// The text is never clipped.
	OverBudget bool

	// Err is set for KindFallback.
	Err *BackendError
}

// Request is everything needed to summarize one invocation.
type Request struct {
	Command   string
	ExitCode  int
	Succeeded bool
	Elapsed   time.Duration

	// Slice is the budgeted view of the output.
	Slice *budget.Slice

	SummaryWords int

	// Threshold is the output word count at or below which output is
	// returned verbatim.
	Threshold int

	Disabled bool

	Template string
	Host     string
	Recent   []RecentCommand
}

func (req Request) promptData() PromptData {
	d := PromptData{
		Command:      req.Command,
		ExitCode:     req.ExitCode,
		Elapsed:      req.Elapsed,
		SummaryWords: req.SummaryWords,
		Host:         req.Host,
		Recent:       req.Recent,
	}
	if req.Slice != nil {
		d.Output = req.Slice.Text()
		d.Truncated = req.Slice.Truncated
	}
	return d
}

// PromptOverhead returns the size in bytes of the prompt req would produce
// with an empty output. It always counts the truncation notice, so it is an
// upper bound whether or not the output ends up shortened.
func PromptOverhead(req Request) int {
	d := req.promptData()
	d.Output = ""
	d.Truncated = true
	return len(BuildPrompt(req.Template, d))
}

// Summarizer decides whether a backend call is needed and makes it.
type Summarizer struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a Summarizer using provider.
func New(provider Provider, logger *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, logger: logger}
}

// Shortcut returns the summary for requests that need no backend call: empty
// output, a disabled command, or output short enough to return verbatim.
func Shortcut(req Request) (Summary, bool) {
	output := req.Slice.Text()

	if !req.Slice.Truncated && strings.TrimSpace(output) == "" {
		return emptySummary(req), true
	}

	if req.Disabled {
		return Summary{Kind: KindDisabled}, true
	}

	trimmed := strings.TrimSpace(output)
	if !req.Slice.Truncated && WordCount(trimmed) <= req.Threshold {
		text := fmt.Sprintf("%s %s after %s seconds (output shorter than %d words; returning raw output):\n\n%s",
			req.Command, outcome(req.Succeeded), Seconds(req.Elapsed), req.Threshold, trimmed)
		return Summary{Text: text, Words: WordCount(text), Kind: KindPassthrough}, true
	}
	return Summary{}, false
}

// Summarize returns the summary for req. It never fails: backend problems
// yield a KindFallback summary carrying the error.
func (s *Summarizer) Summarize(ctx context.Context, req Request) Summary {
	if sum, ok := Shortcut(req); ok {
		return sum
	}

	prompt := BuildPrompt(req.Template, req.promptData())

	start := time.Now()
	text, err := s.provider.Summarize(ctx, prompt)
	latency := time.Since(start)

	if err != nil {
		backendErr := classify(s.provider.Name(), err)
		s.logger.Warn("summarization failed, using fallback",
			slog.String("provider", s.provider.Name()),
			slog.String("reason", string(backendErr.Reason)),
			slog.String("error", backendErr.Error()),
			slog.Duration("latency", latency),
		)
		return Summary{Kind: KindFallback, Latency: latency, Err: backendErr}
	}

	words := WordCount(text)
	over := words > req.SummaryWords
	if over {
		s.logger.Info("summary exceeds word target",
			slog.Int("words", words),
			slog.Int("target", req.SummaryWords),
		)
	}

	s.logger.Debug("summary generated",
		slog.Int("words", words),
		slog.Duration("latency", latency),
	)

	return Summary{
		Text:       text,
		Words:      words,
		Latency:    latency,
		Kind:       KindGenerated,
		OverBudget: over,
	}
}

func emptySummary(req Request) Summary {
	var text string
	if req.Succeeded {
		text = fmt.Sprintf("Command completed successfully in %s seconds with no output.", Seconds(req.Elapsed))
	} else {
		text = fmt.Sprintf("Command failed after %s seconds with exit code %d and no output.", Seconds(req.Elapsed), req.ExitCode)
	}
	return Summary{Text: text, Words: WordCount(text), Kind: KindEmpty}
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
