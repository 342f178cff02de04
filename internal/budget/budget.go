// Package budget reduces captured command output to a slice that fits a byte
// budget derived from the summarization model's context window.
//
// Output that fits is passed through unchanged. Larger output is cut down by
// a fixed pipeline of reducers (error anchors, head and tail, uniform samples)
// whose retained ranges are joined with elision markers that state how many
// bytes were left out, so the reader always knows what it is not seeing.
package budget

import (
	"math"
)

// MinBudget is the smallest budget Reduce will work with.
const MinBudget int64 = 128

// DefaultBytesPerToken is a conservative bytes-per-token ratio. Real
// tokenizers average closer to four bytes per token for English and code, so
// three over-estimates token counts rather than under-estimating them.
const DefaultBytesPerToken = 3.0

// Window describes how much of the model context the output may occupy.
type Window struct {
	// ContextWindow is the model context size in tokens.
	ContextWindow int

	// Factor is the share of ContextWindow available to the prompt.
	Factor float64

	// ReservedTokens are held back for the generated summary.
	ReservedTokens int

	// PromptBytes is the size of the prompt template without the output.
	PromptBytes int

	// BytesPerToken converts between bytes and estimated tokens.
	BytesPerToken float64

	// Explicit, when positive, is used as the budget directly.
	Explicit int64
}

// Bytes returns the output budget in bytes for the window.
func (w Window) Bytes() int64 {
	if w.Explicit > 0 {
		return max(w.Explicit, MinBudget)
	}

	bpt := w.BytesPerToken
	if bpt <= 0 {
		bpt = DefaultBytesPerToken
	}

	// Whole tokens only, so the output never claims a fraction the model lacks.
	tokens := math.Floor(float64(w.ContextWindow)*w.Factor) -
		float64(w.ReservedTokens) -
		float64(EstimateTokens(int64(w.PromptBytes), bpt))

	return max(int64(tokens*bpt), MinBudget)
}

// EstimateTokens returns the token estimate for n bytes, rounded up.
func EstimateTokens(n int64, bytesPerToken float64) int64 {
	if n <= 0 {
		return 0
	}
	if bytesPerToken <= 0 {
		bytesPerToken = DefaultBytesPerToken
	}
	return int64(math.Ceil(float64(n) / bytesPerToken))
}
