// Copyright 2026 Nexus
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator coordinates a query end to end: source detection,
// execution planning, concurrent per-connector fan-out, and multi-source
// synthesis, with an optional streamed progress channel.
package orchestrator

import (
	"time"

	"nexus/engine/llm"
)

// Status is the terminal state of a query.
type Status string

const (
	// StatusCompleted means every planned source succeeded.
	StatusCompleted Status = "completed"

	// StatusPartial means some sources failed but at least one succeeded.
	StatusPartial Status = "partial"

	// StatusFailed means planning failed or zero sources succeeded.
	StatusFailed Status = "failed"
)

// Request is one orchestrated query.
type Request struct {
	// Query is the user's natural-language question.
	Query string `json:"query"`

	// ExplicitSources bypasses detection when the caller already knows
	// which connectors to use (confidence 1.0).
	ExplicitSources []string `json:"explicit_sources,omitempty"`

	// Identity scopes connector sessions and the result cache.
	Identity string `json:"identity,omitempty"`

	// ConfidenceThreshold drops candidate sources below it. Zero means
	// the default.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`

	// MaxSources caps the plan size. Zero means the default (3).
	MaxSources int `json:"max_sources,omitempty"`

	// BoundedCost asks the router to cap tool-use iterations lower.
	BoundedCost bool `json:"bounded_cost,omitempty"`

	// History is the prior conversation, used for parameter completion
	// on follow-up questions.
	History []llm.Message `json:"history,omitempty"`
}

// Response is the aggregate result of one query.
type Response struct {
	RequestID         string         `json:"request_id"`
	Status            Status         `json:"status"`
	Answer            string         `json:"answer"`
	SuccessfulSources []string       `json:"successful_sources"`
	FailedSources     []string       `json:"failed_sources"`
	Results           []SourceResult `json:"results,omitempty"`
	Duration          time.Duration  `json:"duration"`
}

// SourceRelevance scores one connector as a candidate for a query.
type SourceRelevance struct {
	ConnectorID string  `json:"connector_id"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`

	// SuggestedApproach hints how to query this source ("list recent
	// files then summarize"), carried into the execution phase.
	SuggestedApproach string `json:"suggested_approach,omitempty"`
}

// ExecutionPlan is the ordered set of sources to query. An empty
// candidate list means the query cannot be answered.
type ExecutionPlan struct {
	Candidates []SourceRelevance `json:"candidates"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SourceResult is the immutable outcome of querying one source.
type SourceResult struct {
	ConnectorID string        `json:"connector_id"`
	Success     bool          `json:"success"`
	Data        string        `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
	ToolsCalled []string      `json:"tools_called,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventStarted        EventType = "started"
	EventPlanning       EventType = "planning"
	EventPlanComplete   EventType = "plan_complete"
	EventSourceStart    EventType = "source_start"
	EventSourceComplete EventType = "source_complete"
	EventSynthesisChunk EventType = "synthesis_chunk"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// StreamEvent is the sole progress channel for streamed queries. Within
// one query, events arrive in phase order.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`

	// ConnectorID is set on source_start and source_complete.
	ConnectorID string `json:"connector_id,omitempty"`

	// Plan is set on plan_complete.
	Plan *ExecutionPlan `json:"plan,omitempty"`

	// Result is set on source_complete.
	Result *SourceResult `json:"result,omitempty"`

	// Chunk is set on synthesis_chunk.
	Chunk string `json:"chunk,omitempty"`

	// Response is set on done.
	Response *Response `json:"response,omitempty"`

	// Err is set on error.
	Err string `json:"error,omitempty"`
}

func event(t EventType, requestID string) StreamEvent {
	return StreamEvent{Type: t, Timestamp: time.Now(), RequestID: requestID}
}
