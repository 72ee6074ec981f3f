// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"errors"
	"fmt"
	"time"
)

// ErrRoutingAmbiguous signals that a routing tier could not pick a tool
// confidently. It is not fatal: callers fall through to the next tier.
var ErrRoutingAmbiguous = errors.New("routing ambiguous")

// ConnectionError indicates the connector process could not be started or
// the protocol handshake failed.
type ConnectionError struct {
	ConnectorID string
	Cause       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connector '%s': connection failed: %v", e.ConnectorID, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// NewConnectionError creates a ConnectionError for the given connector.
func NewConnectionError(connectorID string, cause error) *ConnectionError {
	return &ConnectionError{ConnectorID: connectorID, Cause: cause}
}

// TimeoutError indicates a per-call or per-source budget was exceeded.
type TimeoutError struct {
	ConnectorID string
	Operation   string
	Budget      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connector '%s': %s exceeded %s budget", e.ConnectorID, e.Operation, e.Budget)
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(connectorID, operation string, budget time.Duration) *TimeoutError {
	return &TimeoutError{ConnectorID: connectorID, Operation: operation, Budget: budget}
}

// ToolExecutionError indicates the tool ran but reported failure.
type ToolExecutionError struct {
	ConnectorID string
	Tool        string
	Message     string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("connector '%s': tool '%s' failed: %s", e.ConnectorID, e.Tool, e.Message)
}

// NewToolExecutionError creates a ToolExecutionError.
func NewToolExecutionError(connectorID, tool, message string) *ToolExecutionError {
	return &ToolExecutionError{ConnectorID: connectorID, Tool: tool, Message: message}
}

// ValidationError indicates malformed or missing required tool arguments
// after parameter completion ran.
type ValidationError struct {
	Tool    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tool '%s': invalid argument '%s': %s", e.Tool, e.Field, e.Message)
	}
	return fmt.Sprintf("tool '%s': %s", e.Tool, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(tool, field, message string) *ValidationError {
	return &ValidationError{Tool: tool, Field: field, Message: message}
}
