// Package config provides configuration management for cg.
// It uses koanf v2 to load configuration from a YAML file, overlays an
// optional named profile, and supports writing the default file on first use.
//
// Configuration is loaded from ~/.ctx_guard/config.yaml by default.
// The file may hold a provider API key, so it is written with 0600 permissions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ctxguard/cg/internal/history"
)

// DefaultConfigDir is the per-user directory holding the config file and log.
const DefaultConfigDir = ".ctx_guard"

// DefaultConfigName is the file name of the configuration inside DefaultConfigDir.
const DefaultConfigName = "config.yaml"

// Provider configures the summarization backend.
type Provider struct {
	// Type selects the backend: "lmstudio", "ollama", "local", "openai", "anthropic".
	Type string `koanf:"type" yaml:"type"`

	// URL is the base address of the backend (e.g., "http://127.0.0.1:1234").
	// Hosted backends use their SDK default when empty.
	URL string `koanf:"url" yaml:"url"`

	// Model is the model identifier passed to the backend.
	Model string `koanf:"model" yaml:"model"`

	// APIKey authenticates against hosted backends. Prefer APIKeyEnv.
	APIKey string `koanf:"api_key" yaml:"api_key,omitempty"`

	// APIKeyEnv names an environment variable holding the API key.
	APIKeyEnv string `koanf:"api_key_env" yaml:"api_key_env,omitempty"`

	// Prompt is the summarization template. See summarize.Placeholders.
	Prompt string `koanf:"prompt" yaml:"prompt"`

	// SummaryWords is the word budget the backend is asked to respect.
	// Default: 100.
	SummaryWords int `koanf:"summary_words" yaml:"summary_words"`

	// OutputLengthThreshold is the output word count at or below which the raw
	// output is returned instead of a summary. Never lower than SummaryWords.
	OutputLengthThreshold int `koanf:"output_length_threshold" yaml:"output_length_threshold"`

	// TimeoutSeconds bounds a single backend request. Default: 30.
	TimeoutSeconds int `koanf:"timeout_seconds" yaml:"timeout_seconds"`

	// MaxRetries is the number of retries after a failed request (0 or 1).
	MaxRetries int `koanf:"max_retries" yaml:"max_retries"`

	// Temperature is the sampling temperature sent with each request.
	Temperature float64 `koanf:"temperature" yaml:"temperature"`

	// MaxOutputTokens caps the length of the generated summary.
	MaxOutputTokens int `koanf:"max_output_tokens" yaml:"max_output_tokens"`
}

// Budget holds the reduction policy used when output exceeds the budget.
type Budget struct {
	// BytesPerToken converts bytes to estimated tokens. Lower is more conservative.
	BytesPerToken float64 `koanf:"bytes_per_token" yaml:"bytes_per_token"`

	// HeadShare is the fraction of the budget kept from the start of the output.
	HeadShare float64 `koanf:"head_share" yaml:"head_share"`

	// TailShare is the fraction of the budget kept from the end of the output.
	TailShare float64 `koanf:"tail_share" yaml:"tail_share"`

	// AnchorShare is the fraction of the budget spent around error markers.
	AnchorShare float64 `koanf:"anchor_share" yaml:"anchor_share"`

	// Samples is the number of evenly spaced windows taken from the middle.
	Samples int `koanf:"samples" yaml:"samples"`

	// AnchorOnSuccess searches for error markers even when the command succeeded.
	AnchorOnSuccess bool `koanf:"anchor_on_success" yaml:"anchor_on_success"`
}

// Config holds cg configuration loaded from the YAML config file.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	Provider Provider `koanf:"provider" yaml:"provider"`

	// ContextWindow is the context size of the summarization model, in tokens.
	ContextWindow int `koanf:"context_window" yaml:"context_window"`

	// BudgetFactor is the share of ContextWindow available to command output.
	BudgetFactor float64 `koanf:"budget_factor" yaml:"budget_factor"`

	// BudgetBytes, when positive, overrides the window-derived budget.
	BudgetBytes int `koanf:"budget_bytes" yaml:"budget_bytes"`

	Budget Budget `koanf:"budget" yaml:"budget"`

	// TempDir receives one output file per invocation. Default: /tmp/ctx_guard.
	TempDir string `koanf:"temp_dir" yaml:"temp_dir"`

	// CleanUpDays removes output files older than this many days. 0 disables cleanup.
	CleanUpDays int `koanf:"clean_up_days" yaml:"clean_up_days"`

	// CleanUpSchedule is a cron expression limiting how often cleanup runs.
	CleanUpSchedule string `koanf:"clean_up_schedule" yaml:"clean_up_schedule"`

	// CommandContextMinutes includes commands run within this many minutes in the prompt.
	// 0 disables the recent commands section.
	CommandContextMinutes int `koanf:"command_context_minutes" yaml:"command_context_minutes"`

	// TimeoutSeconds kills the wrapped command after this many seconds. 0 means no timeout.
	TimeoutSeconds int `koanf:"timeout_seconds" yaml:"timeout_seconds"`

	// KillGraceSeconds is the delay between SIGTERM and SIGKILL on timeout.
	KillGraceSeconds int `koanf:"kill_grace_seconds" yaml:"kill_grace_seconds"`

	// Shell runs the command line. Default: /bin/sh.
	Shell string `koanf:"shell" yaml:"shell"`

	// PTY attaches the command's stdout to a pseudo-terminal.
	PTY bool `koanf:"pty" yaml:"pty"`

	// MemoryLimit is the in-memory copy kept for budgeting while the file is healthy.
	MemoryLimit int64 `koanf:"memory_limit" yaml:"memory_limit"`

	// DegradedLimit caps the in-memory copy once the output file has failed.
	DegradedLimit int64 `koanf:"degraded_limit" yaml:"degraded_limit"`

	// MinFreeBytes is the free space required in TempDir before writing to it.
	MinFreeBytes uint64 `koanf:"min_free_bytes" yaml:"min_free_bytes"`

	// LogLevel controls the verbosity of diagnostic logging.
	// Valid values: "debug", "info", "warn", "error". Default: "warn".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogOutput selects the log sink: "file", "stderr", "journal", "none".
	LogOutput string `koanf:"log_output" yaml:"log_output"`

	// LogFile is the log path used by the "file" sink.
	LogFile string `koanf:"log_file" yaml:"log_file"`

	// Commands holds per-command overrides keyed by command string or glob.
	// Parsed separately because command strings may contain the koanf delimiter.
	Commands map[string]Override `koanf:"-" yaml:"-"`

	// Profile is the name of the profile overlaid on this configuration, if any.
	Profile string `koanf:"-" yaml:"-"`
}

// Validation errors returned by Load when values are out of range.
var (
	ErrUnknownProvider        = errors.New("provider.type must be one of lmstudio, ollama, local, openai, anthropic")
	ErrInvalidSummaryWords    = errors.New("provider.summary_words must be positive")
	ErrInvalidContextWindow   = errors.New("context_window must be positive")
	ErrInvalidBudgetFactor    = errors.New("budget_factor must be in (0, 1]")
	ErrInvalidBytesPerToken   = errors.New("budget.bytes_per_token must be positive")
	ErrInvalidShares          = errors.New("budget shares must be non-negative and sum to at most 1")
	ErrInvalidTimeout         = errors.New("timeout_seconds must not be negative")
	ErrInvalidRetries         = errors.New("provider.max_retries must be 0 or 1")
	ErrInvalidCleanUpDays     = errors.New("clean_up_days must not be negative")
	ErrInvalidCleanUpSchedule = errors.New("clean_up_schedule is not a valid cron expression")
	ErrTempDirRequired        = errors.New("temp_dir is required")
	ErrUnknownProfile         = errors.New("unknown profile")
	ErrInvalidCommandEntry    = errors.New("commands entries must be false, true, or a map with summary_words")
	ErrInvalidOutputThreshold = errors.New("provider.output_length_threshold must not be negative")
)

// DefaultPath returns ~/.ctx_guard/config.yaml, or config.yaml in the working
// directory when the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigName
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigName)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: Provider{
			Type:                  "lmstudio",
			URL:                   "http://127.0.0.1:1234",
			Model:                 "local-model",
			Prompt:                DefaultPrompt,
			SummaryWords:          100,
			OutputLengthThreshold: 100,
			TimeoutSeconds:        30,
			MaxRetries:            0,
			Temperature:           0.7,
			MaxOutputTokens:       500,
		},
		ContextWindow: 8192,
		BudgetFactor:  0.5,
		Budget: Budget{
			BytesPerToken: 3,
			HeadShare:     0.2,
			TailShare:     0.3,
			AnchorShare:   0.3,
			Samples:       4,
		},
		TempDir:          filepath.Join(os.TempDir(), "ctx_guard"),
		CleanUpDays:      5,
		CleanUpSchedule:  "@hourly",
		KillGraceSeconds: 5,
		Shell:            "/bin/sh",
		MemoryLimit:      8 << 20,
		DegradedLimit:    64 << 20,
		MinFreeBytes:     16 << 20,
		LogLevel:         "warn",
		LogOutput:        "file",
		LogFile:          filepath.Join("~", DefaultConfigDir, "cg.log"),
		Commands:         map[string]Override{},
	}
}

// Load reads configuration from the specified YAML file path and overlays the
// named profile when profile is non-empty. Keys absent from the file keep
// their built-in defaults. Returns an error if the file cannot be read or a
// value is invalid.
func Load(path, profile string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if profile != "" {
		overlay := k.Cut("profiles." + profile)
		if len(overlay.Keys()) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
		}
		if err := k.Merge(overlay); err != nil {
			return nil, fmt.Errorf("failed to apply profile %q: %w", profile, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Profile = profile

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
	}
	commands, err := parseCommands(raw)
	if err != nil {
		return nil, err
	}
	cfg.Commands = commands

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrCreate behaves like Load but first writes the default configuration
// to path when no file exists there.
func LoadOrCreate(path, profile string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
	}
	return Load(path, profile)
}

// applyDefaults fills values that cannot be meaningfully empty.
func (c *Config) applyDefaults() {
	if c.Provider.Prompt == "" {
		c.Provider.Prompt = DefaultPrompt
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.CleanUpSchedule == "" {
		c.CleanUpSchedule = "@hourly"
	}
	c.TempDir = ExpandHome(c.TempDir)
	c.LogFile = ExpandHome(c.LogFile)
}

// validate checks that configuration values are present and in range.
func (c *Config) validate() error {
	switch c.Provider.Type {
	case "lmstudio", "ollama", "local", "openai", "anthropic":
	default:
		return fmt.Errorf("%w (got %q)", ErrUnknownProvider, c.Provider.Type)
	}
	if c.Provider.SummaryWords <= 0 {
		return ErrInvalidSummaryWords
	}
	if c.Provider.OutputLengthThreshold < 0 {
		return ErrInvalidOutputThreshold
	}
	if c.Provider.MaxRetries < 0 || c.Provider.MaxRetries > 1 {
		return ErrInvalidRetries
	}
	if c.ContextWindow <= 0 {
		return ErrInvalidContextWindow
	}
	if c.BudgetFactor <= 0 || c.BudgetFactor > 1 {
		return ErrInvalidBudgetFactor
	}
	if c.Budget.BytesPerToken <= 0 {
		return ErrInvalidBytesPerToken
	}
	b := c.Budget
	if b.HeadShare < 0 || b.TailShare < 0 || b.AnchorShare < 0 || b.Samples < 0 ||
		b.HeadShare+b.TailShare+b.AnchorShare > 1.0001 {
		return ErrInvalidShares
	}
	if c.TimeoutSeconds < 0 || c.KillGraceSeconds < 0 || c.Provider.TimeoutSeconds < 0 {
		return ErrInvalidTimeout
	}
	if c.CleanUpDays < 0 {
		return ErrInvalidCleanUpDays
	}
	if err := history.NewCronParser().Validate(c.CleanUpSchedule); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCleanUpSchedule, c.CleanUpSchedule, err)
	}
	if c.TempDir == "" {
		return ErrTempDirRequired
	}
	return nil
}

// WriteDefault writes the commented default configuration file to path.
func WriteDefault(path string) error {
	return writeFile(path, []byte(DefaultYAML))
}

func writeFile(path string, data []byte) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write file with restricted permissions (may contain secrets)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// ProviderTimeoutSeconds returns the backend timeout, defaulting to 30 seconds.
func (c *Config) ProviderTimeoutSeconds() int {
	if c.Provider.TimeoutSeconds == 0 {
		return 30
	}
	return c.Provider.TimeoutSeconds
}

// APIKey returns the provider API key, reading APIKeyEnv when set.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv != "" {
		if v := os.Getenv(c.Provider.APIKeyEnv); v != "" {
			return v
		}
	}
	return c.Provider.APIKey
}
