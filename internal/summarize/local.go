package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ctxguard/cg/internal/version"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 4 << 20

// LocalEndpoint talks to an OpenAI-compatible chat completions server on the
// local machine or network (LM Studio, Ollama, llama.cpp, vLLM).
type LocalEndpoint struct {
	httpClient  *http.Client
	name        string
	url         string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewLocalEndpoint creates a LocalEndpoint with retryable HTTP settings.
//
// The client is configured with:
//   - RetryMax: opts.MaxRetries (0 or 1)
//   - RetryWaitMin: 200 milliseconds
//   - RetryWaitMax: 1 second
//   - Backoff: Linear jitter
//   - Timeout: opts.Timeout per request
func NewLocalEndpoint(opts Options) *LocalEndpoint {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff

	// Disable retryablehttp's internal logging - we use slog instead
	retryClient.Logger = nil

	// Hand back the last response instead of a generic "giving up" error so
	// the status code can be reported.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	retryClient.HTTPClient.Timeout = opts.Timeout

	return &LocalEndpoint{
		httpClient:  retryClient.StandardClient(),
		name:        opts.Type,
		url:         strings.TrimRight(opts.URL, "/") + "/v1/chat/completions",
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxOutputTokens,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
}

// Name returns the configured provider type.
func (l *LocalEndpoint) Name() string {
	return l.name
}

// Summarize posts prompt as a single user message and returns the first choice.
func (l *LocalEndpoint) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       l.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: l.temperature,
		MaxTokens:   l.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", classify(l.name, fmt.Errorf("failed to create chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Info())

	l.logger.Debug("sending summarization request",
		slog.String("url", l.url),
		slog.String("model", l.model),
		slog.Int("prompt_bytes", len(prompt)),
	)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", classify(l.name, err)
	}
	// Always close response body to prevent connection leaks
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classify(l.name, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{
			Provider:   l.name,
			Reason:     ReasonHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(truncate(string(data), 200))),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &BackendError{Provider: l.name, Reason: ReasonMalformed, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &BackendError{Provider: l.name, Reason: ReasonEmpty, Err: fmt.Errorf("no choices in response")}
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", &BackendError{Provider: l.name, Reason: ReasonEmpty, Err: fmt.Errorf("empty message content")}
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
