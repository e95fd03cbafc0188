// Package llm provides the model-provider clients used by the runtime
// driver. Providers are selected through the factory from configuration.
package llm

import (
	"context"

	"github.com/parley-ai/parley/pkg/session"
)

// Client defines the interface for LLM clients.
type Client interface {
	// Generate sends the conversation and receives a complete response.
	Generate(ctx context.Context, messages []*session.Content, config *GenerateConfig) (*Response, error)

	// GenerateStream behaves like Generate but invokes emit for every
	// partial text increment before returning the complete response.
	GenerateStream(ctx context.Context, messages []*session.Content, config *GenerateConfig, emit func(delta string)) (*Response, error)

	// ModelName returns the name of the model being used.
	ModelName() string
}

// GenerateConfig contains per-call generation settings.
type GenerateConfig struct {
	System        string           `json:"system,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
}

// ToolDefinition describes a callable tool for the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response represents a complete model response.
type Response struct {
	Content    *session.Content `json:"content"`
	Text       string           `json:"text"`
	ToolCalls  []ToolCall       `json:"tool_calls,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
}

// Usage holds token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
