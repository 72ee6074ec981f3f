// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
)

// Provider is the interface to the external completion service.
// Implementations must be safe for concurrent use.
//
// The service has no server-side cap on tool-use iterations; callers
// enforce their own (see router).
type Provider interface {
	// Name returns the provider identifier for logging and metrics.
	Name() string

	// Complete generates a completion for the given request. When the
	// request offers tools the response may carry tool calls instead
	// of, or alongside, text.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStream generates a streaming completion, invoking handler
	// for each delta, and returns the final aggregated response.
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error)

	// IsHealthy reports whether the provider is believed operational.
	IsHealthy() bool
}
