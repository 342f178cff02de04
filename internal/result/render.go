package result

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format selects the rendering of a Result.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text or json)", s)
	}
}

// Prefix starts every metadata line of the text rendering.
const Prefix = "[cg] "

// Render writes r to w.
func (r Result) Render(w io.Writer, format Format) error {
	if format == FormatJSON {
		return r.renderJSON(w)
	}
	return r.renderText(w)
}

func (r Result) renderText(w io.Writer) error {
	var b strings.Builder
	b.WriteString(strings.TrimRight(r.summary, "\n"))
	b.WriteString("\n\n")

	path := r.outputPath
	if path == "" {
		path = "(not saved)"
	}
	fmt.Fprintf(&b, "%sexit_code: %d\n", Prefix, r.exitCode)
	fmt.Fprintf(&b, "%soutput_file: %s\n", Prefix, path)
	for _, warn := range r.warnings {
		fmt.Fprintf(&b, "%swarning: %s: %s\n", Prefix, warn.Name, warn.Detail)
	}
	if r.truncated {
		fmt.Fprintf(&b, "%struncated: true\n", Prefix)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type jsonResult struct {
	Command        string    `json:"command"`
	Summary        string    `json:"summary"`
	SummaryKind    string    `json:"summary_kind"`
	ExitCode       int       `json:"exit_code"`
	Status         string    `json:"status"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	OutputFile     string    `json:"output_file"`
	OutputBytes    int64     `json:"output_bytes"`
	Truncated      bool      `json:"truncated"`
	Warnings       []Warning `json:"warnings"`
}

func (r Result) renderJSON(w io.Writer) error {
	warnings := r.warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonResult{
		Command:        r.command,
		Summary:        r.summary,
		SummaryKind:    string(r.summaryKind),
		ExitCode:       r.exitCode,
		Status:         r.status.String(),
		ElapsedSeconds: r.elapsed.Seconds(),
		OutputFile:     r.outputPath,
		OutputBytes:    r.outputSize,
		Truncated:      r.truncated,
		Warnings:       warnings,
	})
}
