package summarize

import (
	"context"
	"errors"
	"fmt"
	"net"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// Reason classifies why a backend call failed.
type Reason string

const (
	ReasonUnreachable Reason = "unreachable"
	ReasonTimeout     Reason = "timeout"
	ReasonHTTPStatus  Reason = "http_status"
	ReasonMalformed   Reason = "malformed_response"
	ReasonEmpty       Reason = "empty_response"
)

// BackendError reports a failed summarization request. Callers fall back to
// a mechanical summary; it is never fatal.
type BackendError struct {
	// Provider is the provider type that failed ("lmstudio", "openai", ...).
	Provider string

	Reason Reason

	// StatusCode is the HTTP status for ReasonHTTPStatus.
	StatusCode int

	Err error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s backend %s", e.Provider, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Detail is the short cause shown to the agent in fallback summaries.
func (e *BackendError) Detail() string {
	switch e.Reason {
	case ReasonHTTPStatus:
		return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.StatusCode)
	case ReasonTimeout:
		return fmt.Sprintf("%s timed out", e.Provider)
	case ReasonUnreachable:
		return fmt.Sprintf("%s unreachable", e.Provider)
	default:
		return fmt.Sprintf("%s %s", e.Provider, e.Reason)
	}
}

// classify turns a transport or SDK error into a BackendError.
func classify(provider string, err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Provider: provider, Reason: ReasonTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Provider: provider, Reason: ReasonTimeout, Err: err}
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return &BackendError{Provider: provider, Reason: ReasonHTTPStatus, StatusCode: oaiErr.StatusCode, Err: err}
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return &BackendError{Provider: provider, Reason: ReasonHTTPStatus, StatusCode: antErr.StatusCode, Err: err}
	}

	return &BackendError{Provider: provider, Reason: ReasonUnreachable, Err: err}
}
