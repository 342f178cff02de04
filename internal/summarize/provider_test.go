package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxguard/cg/internal/logging"
)

func localOptions(url string) Options {
	return Options{
		Type:            TypeLMStudio,
		URL:             url,
		Model:           "local-model",
		Timeout:         2 * time.Second,
		Temperature:     0.7,
		MaxOutputTokens: 500,
		Logger:          logging.Nop(),
	}
}

func requireBackendError(t *testing.T, err error, reason Reason) *BackendError {
	t.Helper()
	require.Error(t, err)
	var be *BackendError
	require.True(t, errors.As(err, &be), "expected *BackendError, got %T: %v", err, err)
	assert.Equal(t, reason, be.Reason)
	return be
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		typ     string
		want    any
		wantErr bool
	}{
		{typ: TypeLMStudio, want: &LocalEndpoint{}},
		{typ: TypeOllama, want: &LocalEndpoint{}},
		{typ: TypeLocal, want: &LocalEndpoint{}},
		{typ: TypeOpenAI, want: &HostedEndpoint{}},
		{typ: TypeAnthropic, want: &HostedEndpoint{}},
		{typ: "gemini", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			opts := localOptions("http://127.0.0.1:1")
			opts.Type = tt.typ
			p, err := NewProvider(opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
			assert.Equal(t, tt.typ, p.Name())
		})
	}
}

func TestLocalEndpoint_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "local-model", req.Model)
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 500, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "summarize this", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  3 tests failed in parser_test.go  "}}]}`))
	}))
	defer server.Close()

	p := NewLocalEndpoint(localOptions(server.URL + "/"))
	text, err := p.Summarize(context.Background(), "summarize this")
	require.NoError(t, err)
	assert.Equal(t, "3 tests failed in parser_test.go", text)
}

func TestLocalEndpoint_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason Reason
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model not loaded"}`, ReasonHTTPStatus},
		{"not found", http.StatusNotFound, `not found`, ReasonHTTPStatus},
		{"malformed", http.StatusOK, `{"choices": [`, ReasonMalformed},
		{"no choices", http.StatusOK, `{"choices": []}`, ReasonEmpty},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"   "}}]}`, ReasonEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewLocalEndpoint(localOptions(server.URL))
			_, err := p.Summarize(context.Background(), "prompt")
			be := requireBackendError(t, err, tt.reason)
			if tt.reason == ReasonHTTPStatus {
				assert.Equal(t, tt.status, be.StatusCode)
			}
			assert.Equal(t, TypeLMStudio, be.Provider)
		})
	}
}

func TestLocalEndpoint_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p := NewLocalEndpoint(localOptions(url))
	_, err := p.Summarize(context.Background(), "prompt")
	be := requireBackendError(t, err, ReasonUnreachable)
	assert.Contains(t, be.Detail(), "unreachable")
}

func TestLocalEndpoint_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	opts := localOptions(server.URL)
	opts.Timeout = 100 * time.Millisecond
	p := NewLocalEndpoint(opts)

	start := time.Now()
	_, err := p.Summarize(context.Background(), "prompt")
	requireBackendError(t, err, ReasonTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalEndpoint_RetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	opts := localOptions(server.URL)
	opts.MaxRetries = 1
	p, err := NewProvider(opts)
	require.NoError(t, err)

	text, err := p.Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLocalEndpoint_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewLocalEndpoint(localOptions(server.URL))
	_, err := p.Summarize(context.Background(), "prompt")
	requireBackendError(t, err, ReasonHTTPStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHostedEndpoint_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Build succeeded with 2 warnings."}
			}]
		}`))
	}))
	defer server.Close()

	opts := localOptions(server.URL)
	opts.Type = TypeOpenAI
	opts.Model = "gpt-4o-mini"
	opts.APIKey = "test-key"
	p, err := NewProvider(opts)
	require.NoError(t, err)

	text, err := p.Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Build succeeded with 2 warnings.", text)
}

func TestHostedEndpoint_OpenAIStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	opts := localOptions(server.URL)
	opts.Type = TypeOpenAI
	opts.APIKey = "wrong"
	p, err := NewProvider(opts)
	require.NoError(t, err)

	_, err = p.Summarize(context.Background(), "prompt")
	be := requireBackendError(t, err, ReasonHTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
	assert.Equal(t, "openai returned HTTP 401", be.Detail())
}

func TestHostedEndpoint_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku", body["model"])
		assert.EqualValues(t, 500, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku",
			"content": [{"type": "text", "text": "Tests passed: 42 of 42."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 6}
		}`))
	}))
	defer server.Close()

	opts := localOptions(server.URL)
	opts.Type = TypeAnthropic
	opts.Model = "claude-haiku"
	opts.APIKey = "test-key"
	p, err := NewProvider(opts)
	require.NoError(t, err)

	text, err := p.Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Tests passed: 42 of 42.", text)
}

func TestBackendErrorMessage(t *testing.T) {
	err := &BackendError{Provider: "ollama", Reason: ReasonHTTPStatus, StatusCode: 502, Err: errors.New("bad gateway")}
	assert.Equal(t, "ollama backend http_status (status 502): bad gateway", err.Error())
	assert.Equal(t, "ollama returned HTTP 502", err.Detail())
	assert.ErrorContains(t, errors.Unwrap(err), "bad gateway")
}
