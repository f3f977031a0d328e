// Package llm defines the Provider interface for large-language-model
// backends.
//
// The session orchestrator is turn-oriented: it sends the full message
// history plus the assistant's tool definitions and consumes one complete
// response, which may carry text, tool calls, or both. Adapters translate
// the uniform request into the vendor-native shape — hoisting the system
// prompt where the vendor requires it, mapping the "tool" role to the
// vendor's tool-result representation (or coercing it to a user turn when
// unsupported), and mapping tool schemas to the vendor's function format.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// Request carries everything the model needs to produce one turn.
type Request struct {
	// SystemPrompt is the high-priority instruction injected before the
	// history. Adapters give it the vendor's native treatment.
	SystemPrompt string

	// Messages is the ordered conversation history. Its first element may
	// itself be a system message; adapters must not duplicate it with
	// SystemPrompt.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Generate sends req to the model and waits for the complete response.
	// Non-2xx responses and timeouts are returned as a *provider.Error;
	// the orchestrator treats them as recoverable per-turn failures.
	Generate(ctx context.Context, req Request) (*types.LLMResponse, error)
}
