package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider.Type != "lmstudio" {
		t.Errorf("Provider.Type = %q, want lmstudio", cfg.Provider.Type)
	}
	if cfg.Provider.URL != "http://127.0.0.1:1234" {
		t.Errorf("Provider.URL = %q", cfg.Provider.URL)
	}
	if cfg.Provider.SummaryWords != 100 || cfg.Provider.OutputLengthThreshold != 100 {
		t.Errorf("summary words/threshold = %d/%d, want 100/100",
			cfg.Provider.SummaryWords, cfg.Provider.OutputLengthThreshold)
	}
	if cfg.CleanUpDays != 5 {
		t.Errorf("CleanUpDays = %d, want 5", cfg.CleanUpDays)
	}
	for _, placeholder := range []string{"${command}", "${exit_code}", "${output}", "${summary_words}"} {
		if !strings.Contains(cfg.Provider.Prompt, placeholder) {
			t.Errorf("default prompt missing %s", placeholder)
		}
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
provider:
  type: openai
  url: http://localhost:8080
  model: custom-model
  summary_words: 50
  output_length_threshold: 75
context_window: 32000
clean_up_days: 0
temp_dir: /var/tmp/cg-test
commands:
  "npx jest":
    summary_words: 200
  "curl -v https://example.com": false
  "make": true
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("file values override defaults", func(t *testing.T) {
		if cfg.Provider.Type != "openai" || cfg.Provider.Model != "custom-model" {
			t.Errorf("provider = %+v", cfg.Provider)
		}
		if cfg.ContextWindow != 32000 {
			t.Errorf("ContextWindow = %d", cfg.ContextWindow)
		}
		if cfg.TempDir != "/var/tmp/cg-test" {
			t.Errorf("TempDir = %q", cfg.TempDir)
		}
	})

	t.Run("absent keys keep defaults", func(t *testing.T) {
		if cfg.Provider.Temperature != 0.7 {
			t.Errorf("Temperature = %v, want 0.7", cfg.Provider.Temperature)
		}
		if cfg.Budget.TailShare != 0.3 {
			t.Errorf("TailShare = %v, want 0.3", cfg.Budget.TailShare)
		}
		if cfg.Shell != "/bin/sh" {
			t.Errorf("Shell = %q", cfg.Shell)
		}
	})

	t.Run("explicit zero is respected", func(t *testing.T) {
		if cfg.CleanUpDays != 0 {
			t.Errorf("CleanUpDays = %d, want 0", cfg.CleanUpDays)
		}
	})

	t.Run("command overrides", func(t *testing.T) {
		if got := cfg.SummaryWords("npx jest"); got != 200 {
			t.Errorf("SummaryWords(npx jest) = %d, want 200", got)
		}
		if got := cfg.SummaryWords("go test"); got != 50 {
			t.Errorf("SummaryWords(go test) = %d, want 50", got)
		}
		// The threshold never drops below the summary length.
		if got := cfg.OutputLengthThreshold("npx jest"); got != 200 {
			t.Errorf("OutputLengthThreshold(npx jest) = %d, want 200", got)
		}
		if got := cfg.OutputLengthThreshold("go test"); got != 75 {
			t.Errorf("OutputLengthThreshold(go test) = %d, want 75", got)
		}
		if !cfg.SummaryDisabled("curl -v https://example.com") {
			t.Error("curl override should disable summarization")
		}
		if cfg.SummaryDisabled("make") {
			t.Error("true means no override")
		}
	})
}

func TestLoadProfile(t *testing.T) {
	path := writeConfig(t, `
provider:
  model: big-model
context_window: 8192
profiles:
  fast:
    provider:
      model: small-model
    context_window: 4096
`)

	base, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load base: %v", err)
	}
	if base.Provider.Model != "big-model" || base.ContextWindow != 8192 {
		t.Errorf("base = %s/%d", base.Provider.Model, base.ContextWindow)
	}

	fast, err := Load(path, "fast")
	if err != nil {
		t.Fatalf("Load fast: %v", err)
	}
	if fast.Provider.Model != "small-model" || fast.ContextWindow != 4096 {
		t.Errorf("fast = %s/%d", fast.Provider.Model, fast.ContextWindow)
	}
	if fast.Profile != "fast" {
		t.Errorf("Profile = %q", fast.Profile)
	}
	// Keys the profile leaves alone come from the base file.
	if fast.Provider.Type != "lmstudio" {
		t.Errorf("Provider.Type = %q", fast.Provider.Type)
	}

	_, err = Load(path, "missing")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown provider", "provider: {type: gemini}", ErrUnknownProvider},
		{"zero summary words", "provider: {summary_words: 0}", ErrInvalidSummaryWords},
		{"budget factor above one", "budget_factor: 1.5", ErrInvalidBudgetFactor},
		{"shares above one", "budget: {head_share: 0.5, tail_share: 0.5, anchor_share: 0.5}", ErrInvalidShares},
		{"negative timeout", "timeout_seconds: -1", ErrInvalidTimeout},
		{"two retries", "provider: {max_retries: 2}", ErrInvalidRetries},
		{"bad command entry", "commands: {\"ls\": [1, 2]}", ErrInvalidCommandEntry},
		{"bad cleanup schedule", "clean_up_schedule: \"61 * * * *\"", ErrInvalidCleanUpSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), "")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadOrCreate(path, "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.Provider.Type != "lmstudio" {
		t.Errorf("Provider.Type = %q", cfg.Provider.Type)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestOverrideForGlobs(t *testing.T) {
	cfg := Default()
	cfg.Commands = map[string]Override{
		"npm run *":    {SummaryWords: 300},
		"npm run lint": {Disabled: true},
	}

	if o, ok := cfg.OverrideFor("npm run lint"); !ok || !o.Disabled {
		t.Errorf("exact key should win: %+v %v", o, ok)
	}
	if o, ok := cfg.OverrideFor("npm run build"); !ok || o.SummaryWords != 300 {
		t.Errorf("glob should match: %+v %v", o, ok)
	}
	if _, ok := cfg.OverrideFor("yarn build"); ok {
		t.Error("unrelated command should not match")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("~user/x"); got != "~user/x" {
		t.Errorf("~user form should be left alone: %q", got)
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "inline"
	if cfg.APIKey() != "inline" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}

	t.Setenv("CG_TEST_KEY", "from-env")
	cfg.Provider.APIKeyEnv = "CG_TEST_KEY"
	if cfg.APIKey() != "from-env" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
}
