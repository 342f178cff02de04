// Package result merges the outcome of one invocation into the fixed-shape
// artifact printed to the caller. Composition never fails and touches neither
// the filesystem nor the network.
package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ctxguard/cg/internal/budget"
	"github.com/ctxguard/cg/internal/executor"
	"github.com/ctxguard/cg/internal/summarize"
)

// excerptLines is how many lines of the head and of the tail a mechanical
// summary shows.
const excerptLines = 20

// WarningName identifies a condition the caller should know about.
type WarningName string

const (
	WarnPersistenceFailed WarningName = "PersistenceFailed"
	WarnTimedOut          WarningName = "TimedOut"
	WarnBackendError      WarningName = "BackendError"
	WarnSummaryOverBudget WarningName = "SummaryOverBudget"
	WarnCaptureLimited    WarningName = "CaptureLimited"
)

// Warning is a named condition with a human-readable detail.
type Warning struct {
	Name   WarningName `json:"name"`
	Detail string      `json:"detail"`
}

// Input gathers what Compose needs.
type Input struct {
	Invocation *executor.Invocation

	OutputPath string
	OutputSize int64
	PersistErr error
	Dropped    int64

	Summary      summarize.Summary
	SummaryWords int

	Slice *budget.Slice
}

// Result is the immutable artifact returned for one invocation.
type Result struct {
	command     string
	summary     string
	summaryKind summarize.Kind
	outputPath  string
	outputSize  int64
	exitCode    int
	status      executor.Status
	elapsed     time.Duration
	truncated   bool
	warnings    []Warning
}

// Compose builds the Result. Fallback and disabled summaries get their
// mechanical text here.
func Compose(in Input) Result {
	inv := in.Invocation
	r := Result{
		command:     inv.Command,
		summaryKind: in.Summary.Kind,
		summary:     in.Summary.Text,
		outputPath:  in.OutputPath,
		outputSize:  in.OutputSize,
		exitCode:    inv.ExitCode,
		status:      inv.Status,
		elapsed:     inv.Duration(),
	}
	if in.Slice != nil {
		r.truncated = in.Slice.Truncated
	}

	sliceText := ""
	if in.Slice != nil {
		sliceText = in.Slice.Text()
	}

	switch in.Summary.Kind {
	case summarize.KindFallback:
		reason := "output could not be read back"
		if in.Summary.Err != nil {
			reason = in.Summary.Err.Detail()
		}
		r.summary = FallbackText(inv, reason, in.OutputSize, sliceText)
	case summarize.KindDisabled:
		r.summary = DisabledText(inv, sliceText)
	}

	if inv.Status == executor.StatusTimedOut {
		r.warnings = append(r.warnings, Warning{
			Name:   WarnTimedOut,
			Detail: fmt.Sprintf("command killed after %s seconds", summarize.Seconds(r.elapsed)),
		})
	}
	if in.PersistErr != nil {
		r.warnings = append(r.warnings, Warning{
			Name:   WarnPersistenceFailed,
			Detail: in.PersistErr.Error() + "; summary produced from memory",
		})
	}
	if in.Dropped > 0 {
		r.warnings = append(r.warnings, Warning{
			Name:   WarnCaptureLimited,
			Detail: fmt.Sprintf("%s of output could not be kept", humanize.IBytes(uint64(in.Dropped))),
		})
	}
	if in.Summary.Err != nil {
		r.warnings = append(r.warnings, Warning{
			Name:   WarnBackendError,
			Detail: in.Summary.Err.Detail(),
		})
	}
	if in.Summary.OverBudget {
		r.warnings = append(r.warnings, Warning{
			Name:   WarnSummaryOverBudget,
			Detail: fmt.Sprintf("summary has %d words, target was %d", in.Summary.Words, in.SummaryWords),
		})
	}

	return r
}

// FallbackText is the summary used when the backend could not produce one.
func FallbackText(inv *executor.Invocation, reason string, size int64, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exited with code %d after %s seconds; summarization unavailable (%s). Output was not fully processed",
		inv.Command, inv.ExitCode, summarize.Seconds(inv.Duration()), reason)
	if size > 0 {
		fmt.Fprintf(&b, " (%s captured)", humanize.Bytes(uint64(size)))
	}
	b.WriteString(".")
	if excerpt := Excerpt(output, excerptLines); excerpt != "" {
		b.WriteString(" Output:\n\n")
		b.WriteString(excerpt)
	}
	return b.String()
}

// DisabledText is the summary used when summarization is off for a command.
func DisabledText(inv *executor.Invocation, output string) string {
	outcome := "succeeded"
	if inv.Failed() {
		outcome = "failed"
	}
	text := fmt.Sprintf("%s %s after %s seconds; summarization is disabled for this command.",
		inv.Command, outcome, summarize.Seconds(inv.Duration()))
	if excerpt := Excerpt(output, excerptLines); excerpt != "" {
		text += " Output:\n\n" + excerpt
	}
	return text
}

// Excerpt keeps the first and last n lines of output.
func Excerpt(output string, n int) string {
	output = strings.TrimRight(output, "\n")
	if strings.TrimSpace(output) == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= 2*n {
		return output
	}
	return fmt.Sprintf("%s\n\n... (%d lines omitted) ...\n\n%s",
		strings.Join(lines[:n], "\n"),
		len(lines)-2*n,
		strings.Join(lines[len(lines)-n:], "\n"))
}

// Command returns the command line.
func (r Result) Command() string { return r.command }

// Summary returns the summary text.
func (r Result) Summary() string { return r.summary }

// SummaryKind returns how the summary was produced.
func (r Result) SummaryKind() summarize.Kind { return r.summaryKind }

// OutputPath returns the full-output file path, empty when none was written.
func (r Result) OutputPath() string { return r.outputPath }

// OutputSize returns the captured output size in bytes.
func (r Result) OutputSize() int64 { return r.outputSize }

// ExitCode returns the exit code to mirror.
func (r Result) ExitCode() int { return r.exitCode }

// Status returns how the command ended.
func (r Result) Status() executor.Status { return r.status }

// Elapsed returns the command's wall time.
func (r Result) Elapsed() time.Duration { return r.elapsed }

// Truncated reports whether the summarizer saw a reduced slice.
func (r Result) Truncated() bool { return r.truncated }

// Warnings returns a copy of the warnings.
func (r Result) Warnings() []Warning {
	return append([]Warning(nil), r.warnings...)
}

// HasWarning reports whether a warning with name is present.
func (r Result) HasWarning(name WarningName) bool {
	for _, w := range r.warnings {
		if w.Name == name {
			return true
		}
	}
	return false
}

// WarningStrings returns warnings as "Name: detail".
func (r Result) WarningStrings() []string {
	out := make([]string, 0, len(r.warnings))
	for _, w := range r.warnings {
		out = append(out, string(w.Name)+": "+w.Detail)
	}
	return out
}
