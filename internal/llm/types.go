// Package llm provides access to upstream text generation backends.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is one turn of conversation context sent upstream.
// Role is "user" or "model".
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is a provider-neutral generation request.
type Request struct {
	// System carries the handling profile's instructions plus the
	// customer context block.
	System string

	// History is prior conversation turns, oldest first.
	History []Message

	// Query is the current user utterance.
	Query string

	// Temperature controls sampling. Zero means provider default.
	Temperature float64

	// MaxOutputTokens caps the reply length. Zero means provider default.
	MaxOutputTokens int
}

// Result is a provider-neutral generation result.
type Result struct {
	// Text is the generated reply, trimmed.
	Text string

	// Model is the backend identifier that produced the reply.
	Model string

	// Empty reports that the backend answered successfully but carried
	// no usable content, and Text holds a neutral placeholder instead.
	Empty bool
}

// Backend issues a single generation attempt against one named model.
// Implementations must honor ctx cancellation and deadlines.
type Backend interface {
	Generate(ctx context.Context, model string, req Request) (*Result, error)
}
