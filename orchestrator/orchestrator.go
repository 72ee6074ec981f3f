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

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"nexus/engine/connectors/registry"
	"nexus/engine/gateway"
	"nexus/engine/llm"
	"nexus/engine/router"
	"nexus/engine/shared/logger"
)

const (
	// DefaultSourceTimeout bounds each per-source task.
	DefaultSourceTimeout = 60 * time.Second

	noSourceMessage = "I could not identify a data source that can answer this question. Try mentioning the system you want to query."
)

// Orchestrator coordinates query planning, fan-out and synthesis.
type Orchestrator struct {
	registry *registry.Registry
	gateway  *gateway.Gateway
	router   *router.Router
	provider llm.Provider

	highConfidence float64
	minConfidence  float64
	maxSources     int
	sourceTimeout  time.Duration

	logger *log.Logger
	slog   *logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHighConfidence overrides the rule-score short-circuit threshold.
func WithHighConfidence(v float64) Option {
	return func(o *Orchestrator) { o.highConfidence = v }
}

// WithMinConfidence overrides the candidate drop threshold.
func WithMinConfidence(v float64) Option {
	return func(o *Orchestrator) { o.minConfidence = v }
}

// WithMaxSources overrides the fan-out cap.
func WithMaxSources(n int) Option {
	return func(o *Orchestrator) { o.maxSources = n }
}

// WithSourceTimeout overrides the per-source budget.
func WithSourceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.sourceTimeout = d }
}

// New creates an orchestrator.
func New(reg *registry.Registry, gw *gateway.Gateway, rt *router.Router, provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       reg,
		gateway:        gw,
		router:         rt,
		provider:       provider,
		highConfidence: DefaultHighConfidence,
		minConfidence:  DefaultMinConfidence,
		maxSources:     DefaultMaxSources,
		sourceTimeout:  DefaultSourceTimeout,
		logger:         log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
		slog:           logger.New("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Query runs one query to completion and returns the aggregate response.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query text is required")
	}

	requestID := uuid.New().String()
	start := time.Now()

	plan := o.plan(ctx, req)
	if len(plan.Candidates) == 0 {
		resp := o.finish(&Response{
			RequestID: requestID,
			Status:    StatusFailed,
			Answer:    noSourceMessage,
		}, start)
		return resp, nil
	}

	results := o.execute(ctx, requestID, req, plan, nil)
	resp := o.aggregate(ctx, requestID, req, results)
	return o.finish(resp, start), nil
}

// QueryStream runs one query, emitting progress events in phase order on
// the returned channel. The channel closes after the terminal done or
// error event.
func (o *Orchestrator) QueryStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query text is required")
	}

	events := make(chan StreamEvent, 16)
	requestID := uuid.New().String()

	go func() {
		defer close(events)
		start := time.Now()

		emit := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(event(EventStarted, requestID)) {
			return
		}
		if !emit(event(EventPlanning, requestID)) {
			return
		}

		plan := o.plan(ctx, req)
		planEv := event(EventPlanComplete, requestID)
		planEv.Plan = plan
		if !emit(planEv) {
			return
		}

		if len(plan.Candidates) == 0 {
			resp := o.finish(&Response{
				RequestID: requestID,
				Status:    StatusFailed,
				Answer:    noSourceMessage,
			}, start)
			doneEv := event(EventDone, requestID)
			doneEv.Response = resp
			emit(doneEv)
			return
		}

		results := o.execute(ctx, requestID, req, plan, emit)

		successes := successfulResults(results)
		if len(successes) == 0 {
			resp := o.finish(o.aggregateFailed(requestID, results), start)
			doneEv := event(EventDone, requestID)
			doneEv.Response = resp
			emit(doneEv)
			return
		}

		answer, err := o.synthesizeStream(ctx, req.Query, successes, func(chunk string) bool {
			ev := event(EventSynthesisChunk, requestID)
			ev.Chunk = chunk
			return emit(ev)
		})
		if err != nil {
			errEv := event(EventError, requestID)
			errEv.Err = "synthesis was interrupted"
			emit(errEv)
			return
		}

		resp := o.buildResponse(requestID, results, answer)
		o.finish(resp, start)
		doneEv := event(EventDone, requestID)
		doneEv.Response = resp
		emit(doneEv)
	}()

	return events, nil
}

// SuggestSources exposes source detection for UI previews.
func (o *Orchestrator) SuggestSources(ctx context.Context, query string) []SourceRelevance {
	return o.detectSources(ctx, query)
}

// IsMultiSource is a cheap pre-check: it reports whether rule scoring
// alone finds more than one plausible source. No model calls.
func (o *Orchestrator) IsMultiSource(query string) bool {
	count := 0
	for _, s := range o.scoreByRules(query) {
		if s.Confidence >= o.minConfidence {
			count++
		}
	}
	return count > 1
}

// plan builds the execution plan: explicit sources verbatim, otherwise
// detection plus threshold/cap filtering.
func (o *Orchestrator) plan(ctx context.Context, req Request) *ExecutionPlan {
	minConfidence := req.ConfidenceThreshold
	if minConfidence <= 0 {
		minConfidence = o.minConfidence
	}
	maxSources := req.MaxSources
	if maxSources <= 0 {
		maxSources = o.maxSources
	}

	if len(req.ExplicitSources) > 0 {
		plan := &ExecutionPlan{CreatedAt: time.Now()}
		for _, id := range req.ExplicitSources {
			if _, err := o.registry.Get(id); err != nil {
				o.logger.Printf("Explicit source '%s' is not registered, skipping", id)
				continue
			}
			plan.Candidates = append(plan.Candidates, SourceRelevance{
				ConnectorID: id,
				Confidence:  1.0,
				Rationale:   "explicitly requested",
			})
			if len(plan.Candidates) >= maxSources {
				break
			}
		}
		return plan
	}

	return buildPlan(o.detectSources(ctx, req.Query), minConfidence, maxSources)
}

// execute fans the query out, one goroutine per planned source, each
// under its own timeout. A failure or panic in one source never aborts
// its siblings. When emit is non-nil, per-source events are forwarded as
// they happen.
func (o *Orchestrator) execute(ctx context.Context, requestID string, req Request, plan *ExecutionPlan, emit func(StreamEvent) bool) []SourceResult {
	forceRefresh := gateway.NeedsFreshData(req.Query)

	resultCh := make(chan SourceResult, len(plan.Candidates))
	for _, candidate := range plan.Candidates {
		if emit != nil {
			ev := event(EventSourceStart, requestID)
			ev.ConnectorID = candidate.ConnectorID
			emit(ev)
		}
		go func(c SourceRelevance) {
			resultCh <- o.querySource(ctx, req, c, forceRefresh)
		}(candidate)
	}

	results := make([]SourceResult, 0, len(plan.Candidates))
	for range plan.Candidates {
		res := <-resultCh
		status := "success"
		if !res.Success {
			status = "failure"
		}
		promSourceResults.WithLabelValues(res.ConnectorID, status).Inc()
		if emit != nil {
			ev := event(EventSourceComplete, requestID)
			ev.ConnectorID = res.ConnectorID
			ev.Result = &res
			emit(ev)
		}
		results = append(results, res)
	}
	return results
}

// querySource runs one source through the router under the per-source
// timeout. Panics are captured as failures.
func (o *Orchestrator) querySource(ctx context.Context, req Request, candidate SourceRelevance, forceRefresh bool) (result SourceResult) {
	start := time.Now()
	result = SourceResult{ConnectorID: candidate.ConnectorID}

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			o.logger.Printf("Source %s panicked: %v", candidate.ConnectorID, r)
			result.Success = false
			result.Error = fmt.Sprintf("internal error querying %s", candidate.ConnectorID)
		}
	}()

	sourceCtx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
	defer cancel()

	message := req.Query
	if candidate.SuggestedApproach != "" {
		message += "\n(Suggested approach: " + candidate.SuggestedApproach + ")"
	}

	routed, err := o.router.Route(sourceCtx, message, candidate.ConnectorID, router.Options{
		Identity:     req.Identity,
		ForceRefresh: forceRefresh,
		BoundedCost:  req.BoundedCost,
		History:      req.History,
	})
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Data = routed.Answer
	result.ToolsCalled = routed.ToolsCalled
	return result
}

// aggregate synthesizes the final response for the blocking path.
func (o *Orchestrator) aggregate(ctx context.Context, requestID string, req Request, results []SourceResult) *Response {
	successes := successfulResults(results)
	if len(successes) == 0 {
		return o.aggregateFailed(requestID, results)
	}

	answer, err := o.synthesize(ctx, req.Query, successes)
	if err != nil {
		answer = o.concatenate(successes)
	}
	return o.buildResponse(requestID, results, answer)
}

func (o *Orchestrator) aggregateFailed(requestID string, results []SourceResult) *Response {
	resp := o.buildResponse(requestID, results, "")
	resp.Answer = "All data sources failed to answer this query. Failed sources: " + joinIDs(resp.FailedSources) + "."
	return resp
}

func (o *Orchestrator) buildResponse(requestID string, results []SourceResult, answer string) *Response {
	resp := &Response{
		RequestID: requestID,
		Answer:    answer,
		Results:   results,
	}
	for _, r := range results {
		if r.Success {
			resp.SuccessfulSources = append(resp.SuccessfulSources, r.ConnectorID)
		} else {
			resp.FailedSources = append(resp.FailedSources, r.ConnectorID)
		}
	}

	switch {
	case len(resp.SuccessfulSources) == 0:
		resp.Status = StatusFailed
	case len(resp.FailedSources) > 0:
		resp.Status = StatusPartial
	default:
		resp.Status = StatusCompleted
	}
	return resp
}

// finish stamps duration and records metrics and the request log line.
func (o *Orchestrator) finish(resp *Response, start time.Time) *Response {
	resp.Duration = time.Since(start)
	promQueries.WithLabelValues(string(resp.Status)).Inc()
	promQueryDuration.Observe(float64(resp.Duration.Milliseconds()))
	o.slog.InfoWithDuration(resp.RequestID, "Query finished", float64(resp.Duration.Milliseconds()), map[string]interface{}{
		"status":             string(resp.Status),
		"successful_sources": len(resp.SuccessfulSources),
		"failed_sources":     len(resp.FailedSources),
	})
	return resp
}

func successfulResults(results []SourceResult) []SourceResult {
	var out []SourceResult
	for _, r := range results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
