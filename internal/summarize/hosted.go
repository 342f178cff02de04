package summarize

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Dialect selects the wire protocol of a hosted provider.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// HostedEndpoint calls a hosted model API through its official SDK.
type HostedEndpoint struct {
	dialect     Dialect
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	logger      *slog.Logger

	openai    openai.Client
	anthropic anthropic.Client
}

func newHostedEndpoint(dialect Dialect, opts Options) *HostedEndpoint {
	h := &HostedEndpoint{
		dialect:     dialect,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   int64(opts.MaxOutputTokens),
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	switch dialect {
	case DialectOpenAI:
		clientOpts := []openaiopt.RequestOption{
			openaiopt.WithMaxRetries(opts.MaxRetries),
			openaiopt.WithHTTPClient(httpClient),
		}
		if opts.APIKey != "" {
			clientOpts = append(clientOpts, openaiopt.WithAPIKey(opts.APIKey))
		}
		if opts.URL != "" {
			clientOpts = append(clientOpts, openaiopt.WithBaseURL(strings.TrimRight(opts.URL, "/")+"/v1/"))
		}
		h.openai = openai.NewClient(clientOpts...)
	case DialectAnthropic:
		clientOpts := []anthropicopt.RequestOption{
			anthropicopt.WithMaxRetries(opts.MaxRetries),
			anthropicopt.WithHTTPClient(httpClient),
		}
		if opts.APIKey != "" {
			clientOpts = append(clientOpts, anthropicopt.WithAPIKey(opts.APIKey))
		}
		if opts.URL != "" {
			clientOpts = append(clientOpts, anthropicopt.WithBaseURL(strings.TrimRight(opts.URL, "/")+"/"))
		}
		h.anthropic = anthropic.NewClient(clientOpts...)
	}
	return h
}

// Name returns the dialect name.
func (h *HostedEndpoint) Name() string {
	return string(h.dialect)
}

// Summarize sends prompt as a single user message.
func (h *HostedEndpoint) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.logger.Debug("sending summarization request",
		slog.String("dialect", string(h.dialect)),
		slog.String("model", h.model),
		slog.Int("prompt_bytes", len(prompt)),
	)

	var (
		text string
		err  error
	)
	switch h.dialect {
	case DialectAnthropic:
		text, err = h.summarizeAnthropic(ctx, prompt)
	default:
		text, err = h.summarizeOpenAI(ctx, prompt)
	}
	if err != nil {
		return "", classify(h.Name(), err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &BackendError{Provider: h.Name(), Reason: ReasonEmpty}
	}
	return text, nil
}

func (h *HostedEndpoint) summarizeOpenAI(ctx context.Context, prompt string) (string, error) {
	resp, err := h.openai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(h.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(h.maxTokens),
		Temperature:         openai.Float(h.temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Provider: h.Name(), Reason: ReasonEmpty}
	}
	return resp.Choices[0].Message.Content, nil
}

func (h *HostedEndpoint) summarizeAnthropic(ctx context.Context, prompt string) (string, error) {
	message, err := h.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(h.model),
		MaxTokens: h.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(h.temperature),
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}
