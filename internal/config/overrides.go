package config

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	goyaml "gopkg.in/yaml.v3"
)

// Override customizes cg for one command string or glob pattern.
//
// In YAML an override is either a boolean or a map:
//
//	commands:
//	  "curl -v *": false          # no summary, return an excerpt instead
//	  "npx jest": {summary_words: 200}
//
// `true` is accepted and means "no override".
type Override struct {
	// Disabled turns summarization off for matching commands.
	Disabled bool

	// SummaryWords replaces provider.summary_words when positive.
	SummaryWords int
}

// parseCommands extracts the commands section from raw YAML.
func parseCommands(raw []byte) (map[string]Override, error) {
	var doc struct {
		Commands map[string]goyaml.Node `yaml:"commands"`
	}
	if err := goyaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse commands section: %w", err)
	}

	out := make(map[string]Override, len(doc.Commands))
	for key, node := range doc.Commands {
		var enabled bool
		if err := node.Decode(&enabled); err == nil {
			out[key] = Override{Disabled: !enabled}
			continue
		}

		var entry struct {
			SummaryWords int `yaml:"summary_words"`
		}
		if err := node.Decode(&entry); err != nil || entry.SummaryWords < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCommandEntry, key)
		}
		out[key] = Override{SummaryWords: entry.SummaryWords}
	}
	return out, nil
}

// OverrideFor returns the override that applies to command. An exact key
// wins; otherwise glob keys are tried in lexical order. Globs follow
// doublestar rules, so "*" does not cross "/".
func (c *Config) OverrideFor(command string) (Override, bool) {
	if o, ok := c.Commands[command]; ok {
		return o, true
	}

	patterns := make([]string, 0, len(c.Commands))
	for key := range c.Commands {
		patterns = append(patterns, key)
	}
	sort.Strings(patterns)

	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, command); err == nil && matched {
			return c.Commands[pattern], true
		}
	}
	return Override{}, false
}

// SummaryWords returns the word target for command.
func (c *Config) SummaryWords(command string) int {
	if o, ok := c.OverrideFor(command); ok && o.SummaryWords > 0 {
		return o.SummaryWords
	}
	return c.Provider.SummaryWords
}

// OutputLengthThreshold returns the word count at or below which output is
// returned verbatim. It never goes below the summary length, since a summary
// longer than the output it summarizes is useless.
func (c *Config) OutputLengthThreshold(command string) int {
	return max(c.Provider.OutputLengthThreshold, c.SummaryWords(command))
}

// SummaryDisabled reports whether summarization is turned off for command.
func (c *Config) SummaryDisabled(command string) bool {
	o, ok := c.OverrideFor(command)
	return ok && o.Disabled
}
