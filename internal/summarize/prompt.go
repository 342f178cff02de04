package summarize

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Placeholders are the template variables substituted by BuildPrompt.
var Placeholders = []string{
	"${recent_commands}",
	"${host}",
	"${command}",
	"${exit_code}",
	"${elapsed}",
	"${truncated}",
	"${output}",
	"${summary_words}",
}

// CheckTemplate reports problems with a prompt template: a missing
// ${output} placeholder and any ${...} name BuildPrompt does not substitute.
func CheckTemplate(template string) []string {
	var problems []string
	if !strings.Contains(template, "${output}") {
		problems = append(problems, "template has no ${output} placeholder; the model will not see the output")
	}

	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			break
		}
		name := rest[start : start+end+1]
		if !slices.Contains(Placeholders, name) {
			problems = append(problems, fmt.Sprintf("unknown placeholder %s is left as is", name))
		}
		rest = rest[start+end+1:]
	}
	return problems
}

const truncatedNotice = "The output was too long and has been shortened; " +
	"omitted parts are marked with \"[... N bytes omitted ...]\".\n"

// RecentCommand is a previously run command shown to the model as context.
type RecentCommand struct {
	Command  string
	ExitCode int
}

// PromptData fills a prompt template.
type PromptData struct {
	Command      string
	ExitCode     int
	Elapsed      time.Duration
	Output       string
	Truncated    bool
	SummaryWords int
	Host         string
	Recent       []RecentCommand
}

// BuildPrompt substitutes every placeholder in template. Substituted values
// are not scanned again, so output containing "${...}" is left as is.
func BuildPrompt(template string, d PromptData) string {
	truncated := ""
	if d.Truncated {
		truncated = truncatedNotice
	}

	r := strings.NewReplacer(
		"${recent_commands}", recentCommandsText(d.Recent),
		"${host}", d.Host,
		"${command}", d.Command,
		"${exit_code}", strconv.Itoa(d.ExitCode),
		"${elapsed}", Seconds(d.Elapsed),
		"${truncated}", truncated,
		"${output}", d.Output,
		"${summary_words}", strconv.Itoa(d.SummaryWords),
	)
	return r.Replace(template)
}

func recentCommandsText(recent []RecentCommand) string {
	if len(recent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("recently run commands:\n")
	for _, rc := range recent {
		fmt.Fprintf(&b, "- %s, %s\n", rc.Command, outcome(rc.ExitCode == 0))
	}
	b.WriteString("\n")
	return b.String()
}

// Seconds formats d as seconds with one decimal.
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}

func outcome(succeeded bool) string {
	if succeeded {
		return "succeeded"
	}
	return "failed"
}
