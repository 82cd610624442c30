// Package llm provides clients for chat completion backends.
//
// Two backends are supported: OpenAI-compatible APIs (via go-openai) and
// local Ollama servers. Both implement LLMClient with buffered and
// streaming completion paths.
package llm

import (
	"context"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// Default generation parameters applied when the caller leaves a field nil.
const (
	DefaultTemperature = float32(0.7)
	DefaultMaxTokens   = 1000
)

// GenerationParams controls sampling for a completion request.
// Nil fields fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChatResult is the outcome of a buffered completion.
type ChatResult struct {
	// Content is the assistant's reply text.
	Content string

	// Usage holds token counts when the backend reports them.
	// Nil when the backend does not report usage.
	Usage *datatypes.TokenUsage
}

// StreamEventType identifies the kind of a streaming event.
type StreamEventType string

const (
	// StreamEventToken carries a content delta.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone marks normal end of stream.
	StreamEventDone StreamEventType = "done"

	// StreamEventError carries a backend error surfaced mid-stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single event from a streaming completion.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in order. Returning a non-nil
// error aborts the stream.
type StreamCallback func(StreamEvent) error

// LLMClient defines the standard interface for any chat completion backend.
type LLMClient interface {
	// Chat performs a buffered completion and returns the full reply.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error)

	// ChatStream performs a streaming completion, invoking callback for
	// each event. Returns after the stream ends or fails.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
