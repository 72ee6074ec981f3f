// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the unified types and provider interface for the
// external completion service, an Anthropic-compatible HTTP implementation,
// and the bridge that adapts blocking streams to channel consumption.
package llm

import (
	"fmt"
	"time"
)

// Role constants for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its result turn.
	ID string `json:"id"`

	// Name is the tool name; never invented by the engine, only echoed
	// from catalogs offered to the model.
	Name string `json:"name"`

	// Arguments are the model-provided tool arguments.
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one turn in a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that requested tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result turn to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a tool-result turn that carries an error payload.
	IsError bool `json:"is_error,omitempty"`
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// CompletionRequest encapsulates one completion call.
type CompletionRequest struct {
	// Model overrides the provider default. Callers use a cheap model
	// for fast-tier routing and the default for everything else.
	Model string `json:"model,omitempty"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far.
	Messages []Message `json:"messages"`

	// Tools is the catalog offered for tool use; empty disables it.
	Tools []ToolSpec `json:"tools,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResponse is the result of one completion call.
type CompletionResponse struct {
	// Text is the generated text, possibly empty when the model only
	// requested tool calls.
	Text string `json:"text"`

	// ToolCalls are the tool invocations the model requested this turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      UsageStats    `json:"usage"`
	Latency    time.Duration `json:"latency"`
}

// UsageStats tracks token usage for monitoring.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// DeltaType identifies the kind of a streaming delta.
type DeltaType string

const (
	// DeltaText carries incremental response text.
	DeltaText DeltaType = "text"

	// DeltaToolUse signals the model started requesting a tool call.
	DeltaToolUse DeltaType = "tool_use"

	// DeltaThinking carries extended-reasoning text.
	DeltaThinking DeltaType = "thinking"

	// DeltaDone is the sentinel for normal stream completion.
	DeltaDone DeltaType = "done"

	// DeltaError is the sentinel for stream failure.
	DeltaError DeltaType = "error"
)

// StreamDelta is one parsed chunk of a streaming completion.
type StreamDelta struct {
	Type     DeltaType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// StreamHandler receives streaming deltas. Returning an error aborts the
// stream.
type StreamHandler func(delta StreamDelta) error

// ProviderError represents an error from the completion service.
type ProviderError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Cause }
