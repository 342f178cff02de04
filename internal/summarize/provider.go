package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider types accepted in configuration.
const (
	TypeLMStudio  = "lmstudio"
	TypeOllama    = "ollama"
	TypeLocal     = "local"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// Provider sends a prompt to a language model and returns its reply.
type Provider interface {
	// Name returns the configured provider type.
	Name() string

	// Summarize returns the model's reply to prompt. Failures are *BackendError.
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Options configures a Provider.
type Options struct {
	Type   string
	URL    string
	Model  string
	APIKey string

	// Timeout bounds one request including retries. Default: 30s.
	Timeout time.Duration

	// MaxRetries is clamped to [0, 1].
	MaxRetries int

	Temperature     float64
	MaxOutputTokens int

	Logger *slog.Logger
}

// NewProvider returns the provider variant for opts.Type.
func NewProvider(opts Options) (Provider, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	opts.MaxRetries = min(max(opts.MaxRetries, 0), 1)
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch opts.Type {
	case TypeLMStudio, TypeOllama, TypeLocal:
		return NewLocalEndpoint(opts), nil
	case TypeOpenAI:
		return newHostedEndpoint(DialectOpenAI, opts), nil
	case TypeAnthropic:
		return newHostedEndpoint(DialectAnthropic, opts), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", opts.Type)
	}
}
