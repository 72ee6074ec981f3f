// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"nexus/engine/cache"
	"nexus/engine/connectors/base"
	"nexus/engine/connectors/registry"
	"nexus/engine/gateway"
	"nexus/engine/llm"
	"nexus/engine/router"
)

// scriptedProvider returns canned responses in order and counts calls.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.responses) == 0 {
		return &llm.CompletionResponse{Text: "synthesized answer"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest, handler llm.StreamHandler) (*llm.CompletionResponse, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, chunk := range strings.SplitAfter(resp.Text, " ") {
		if err := handler(llm.StreamDelta{Type: llm.DeltaText, Text: chunk}); err != nil {
			return nil, err
		}
	}
	if err := handler(llm.StreamDelta{Type: llm.DeltaDone}); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *scriptedProvider) IsHealthy() bool { return true }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeConn answers every tool call with canned content after an optional
// delay.
type fakeConn struct {
	content string
	delay   time.Duration

	mu       sync.Mutex
	lastArgs map[string]interface{}
}

func (f *fakeConn) ListTools(_ context.Context) ([]base.Tool, error) {
	return []base.Tool{{Name: "query"}}, nil
}

func (f *fakeConn) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*gateway.CallOutcome, error) {
	f.mu.Lock()
	f.lastArgs = args
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &gateway.CallOutcome{Content: f.content}, nil
}

func (f *fakeConn) Close() error { return nil }

type fakeTransport struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func (t *fakeTransport) Connect(_ context.Context, desc *base.ConnectorDescriptor) (gateway.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[desc.ID]; ok {
		return conn, nil
	}
	return &fakeConn{content: "data from " + desc.ID}, nil
}

type testEnv struct {
	orch     *Orchestrator
	provider *scriptedProvider
}

// newTestEnv wires a registry with jira and s3 connectors whose rule
// profiles score 0.7 and 0.6 for ticket/file queries, behind fake
// connector sessions.
func newTestEnv(t *testing.T, conns map[string]*fakeConn, opts ...Option) *testEnv {
	t.Helper()

	reg := registry.NewRegistry()
	descs := []*base.ConnectorDescriptor{
		{
			ID:      "jira",
			Command: []string{"/usr/bin/true"},
			DirectRules: []base.DirectRule{
				{Keywords: []string{"tickets"}, Tool: "query"},
			},
			Detection: base.DetectionProfile{
				Keywords: []string{"tickets", "open"},
				Weight:   0.35,
			},
		},
		{
			ID:      "s3",
			Command: []string{"/usr/bin/true"},
			DirectRules: []base.DirectRule{
				{Keywords: []string{"files"}, Tool: "query"},
			},
			Detection: base.DetectionProfile{
				Keywords: []string{"files", "recent"},
				Weight:   0.3,
			},
		},
		{
			ID:      "slack",
			Command: []string{"/usr/bin/true"},
			DirectRules: []base.DirectRule{
				{Keywords: []string{"messages"}, Tool: "query"},
			},
			Detection: base.DetectionProfile{
				Keywords:         []string{"messages", "channel"},
				NegativeKeywords: []string{"tickets"},
				Weight:           0.35,
			},
		},
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	store := cache.New(100, 0)
	t.Cleanup(store.Close)

	if conns == nil {
		conns = map[string]*fakeConn{}
	}
	gw := gateway.New(reg, &fakeTransport{conns: conns}, store)
	provider := &scriptedProvider{}
	rt := router.New(reg, gw, provider, "")

	// Rule scores in these tests top out at 0.7, so pin the
	// short-circuit threshold below that to keep detection deterministic.
	allOpts := append([]Option{WithHighConfidence(0.7)}, opts...)
	orch := New(reg, gw, rt, provider, allOpts...)

	return &testEnv{orch: orch, provider: provider}
}

func TestScoreByRules(t *testing.T) {
	env := newTestEnv(t, nil)

	scores := env.orch.scoreByRules("compare my open tickets with recent files")

	byID := map[string]float64{}
	for _, s := range scores {
		byID[s.ConnectorID] = s.Confidence
	}

	if got := byID["jira"]; got < 0.69 || got > 0.71 {
		t.Errorf("jira confidence = %.2f, want 0.70", got)
	}
	if got := byID["s3"]; got < 0.59 || got > 0.61 {
		t.Errorf("s3 confidence = %.2f, want 0.60", got)
	}
	if _, ok := byID["slack"]; ok {
		t.Error("slack must not score; no keywords match")
	}
}

func TestNegativeKeywordsReduceScore(t *testing.T) {
	env := newTestEnv(t, nil)

	// "messages" hits but the negative keyword "tickets" cancels it out.
	scores := env.orch.scoreByRules("messages about tickets")
	for _, s := range scores {
		if s.ConnectorID == "slack" {
			t.Errorf("slack scored %.2f, want omission after negative keyword", s.Confidence)
		}
	}
}

func TestMergeRelevancePrefersHigherConfidence(t *testing.T) {
	rules := []SourceRelevance{
		{ConnectorID: "jira", Confidence: 0.7, Rationale: "keywords"},
		{ConnectorID: "s3", Confidence: 0.3, Rationale: "keywords"},
	}
	llmScores := []SourceRelevance{
		{ConnectorID: "s3", Confidence: 0.9, Rationale: "model", SuggestedApproach: "list recent"},
		{ConnectorID: "slack", Confidence: 0.4, Rationale: "model"},
	}

	merged := mergeRelevance(rules, llmScores)

	byID := map[string]SourceRelevance{}
	for _, s := range merged {
		byID[s.ConnectorID] = s
	}

	if got := byID["s3"].Confidence; got != 0.9 {
		t.Errorf("s3 confidence = %.2f, want the higher 0.90", got)
	}
	if r := byID["s3"].Rationale; r != "keywords; model" {
		t.Errorf("s3 rationale = %q, want concatenation", r)
	}
	if byID["s3"].SuggestedApproach != "list recent" {
		t.Error("expected suggested approach carried over from the model list")
	}
	if got := byID["jira"].Confidence; got != 0.7 {
		t.Errorf("jira confidence = %.2f, want 0.70", got)
	}
	if _, ok := byID["slack"]; !ok {
		t.Error("model-only candidates must survive the merge")
	}
	if merged[0].ConnectorID != "s3" {
		t.Errorf("merged[0] = %s, want highest confidence first", merged[0].ConnectorID)
	}
}

func TestBuildPlanAppliesThresholdAndCap(t *testing.T) {
	candidates := []SourceRelevance{
		{ConnectorID: "a", Confidence: 0.9},
		{ConnectorID: "b", Confidence: 0.8},
		{ConnectorID: "c", Confidence: 0.7},
		{ConnectorID: "d", Confidence: 0.6},
		{ConnectorID: "e", Confidence: 0.3},
	}

	plan := buildPlan(candidates, 0.5, 3)

	if len(plan.Candidates) != 3 {
		t.Fatalf("plan has %d candidates, want 3 (max-sources cap)", len(plan.Candidates))
	}
	for _, c := range plan.Candidates {
		if c.Confidence < 0.5 {
			t.Errorf("candidate %s below threshold made the plan", c.ConnectorID)
		}
	}
}

func TestIsMultiSource(t *testing.T) {
	env := newTestEnv(t, nil)

	if !env.orch.IsMultiSource("compare my open tickets with recent files") {
		t.Error("expected multi-source for a query scoring two connectors")
	}
	if env.orch.IsMultiSource("show my open tickets") {
		t.Error("expected single source for a jira-only query")
	}
}

func TestQueryMultiSourceScenario(t *testing.T) {
	env := newTestEnv(t, map[string]*fakeConn{
		"jira": {content: "5 open tickets"},
		"s3":   {content: "12 recent files"},
	})
	env.provider.responses = []*llm.CompletionResponse{
		{Text: "You have 5 open tickets (Jira) and 12 recent files (S3)."},
	}

	resp, err := env.orch.Query(context.Background(), Request{
		Query: "compare my open tickets with recent files",
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", resp.Status)
	}
	if len(resp.SuccessfulSources) != 2 {
		t.Errorf("SuccessfulSources = %v, want jira and s3", resp.SuccessfulSources)
	}
	if !strings.Contains(resp.Answer, "Jira") || !strings.Contains(resp.Answer, "S3") {
		t.Errorf("Answer = %q, want per-source attribution", resp.Answer)
	}
	// One synthesis call; routing was satisfied by direct rules.
	if env.provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", env.provider.callCount())
	}
}

func TestQuerySingleSourceReturnsRawAnswer(t *testing.T) {
	env := newTestEnv(t, map[string]*fakeConn{
		"jira": {content: "5 open tickets"},
	})

	resp, err := env.orch.Query(context.Background(), Request{Query: "show my open tickets"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", resp.Status)
	}
	if resp.Answer != "5 open tickets" {
		t.Errorf("Answer = %q, want the raw single-source answer", resp.Answer)
	}
	if env.provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0 (no synthesis for one source)", env.provider.callCount())
	}
}

func TestQueryPartialFailure(t *testing.T) {
	env := newTestEnv(t,
		map[string]*fakeConn{
			"jira":  {content: "5 open tickets"},
			"s3":    {content: "12 recent files"},
			"slack": {content: "irrelevant", delay: 5 * time.Second},
		},
		WithSourceTimeout(150*time.Millisecond),
	)
	env.provider.responses = []*llm.CompletionResponse{
		{Text: "combined answer"},
	}

	start := time.Now()
	resp, err := env.orch.Query(context.Background(), Request{
		Query:           "tickets files messages",
		ExplicitSources: []string{"jira", "s3", "slack"},
	})
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if resp.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", resp.Status)
	}
	if len(resp.SuccessfulSources) != 2 {
		t.Errorf("SuccessfulSources = %v, want 2", resp.SuccessfulSources)
	}
	if len(resp.FailedSources) != 1 || resp.FailedSources[0] != "slack" {
		t.Errorf("FailedSources = %v, want [slack]", resp.FailedSources)
	}
	if elapsed > 2*time.Second {
		t.Errorf("query took %s; the timed-out source must not block completion", elapsed)
	}
}

func TestQueryAllSourcesFailed(t *testing.T) {
	env := newTestEnv(t,
		map[string]*fakeConn{
			"jira": {content: "never", delay: 5 * time.Second},
		},
		WithSourceTimeout(100*time.Millisecond),
	)

	resp, err := env.orch.Query(context.Background(), Request{
		Query:           "show my open tickets",
		ExplicitSources: []string{"jira"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", resp.Status)
	}
	if !strings.Contains(resp.Answer, "jira") {
		t.Errorf("Answer = %q, want the failed source named", resp.Answer)
	}
}

func TestQueryNoIdentifiableSource(t *testing.T) {
	env := newTestEnv(t, nil)
	// Detection finds nothing by rules; the LLM relevance call returns
	// no parseable sources either.
	env.provider.responses = []*llm.CompletionResponse{
		{Text: `{"sources": []}`},
	}

	resp, err := env.orch.Query(context.Background(), Request{Query: "what is the weather"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", resp.Status)
	}
	if !strings.Contains(resp.Answer, "could not identify") {
		t.Errorf("Answer = %q, want the no-source message", resp.Answer)
	}
}

func TestQueryExplicitSourcesSkipDetection(t *testing.T) {
	env := newTestEnv(t, map[string]*fakeConn{
		"jira": {content: "5 open tickets"},
	})

	resp, err := env.orch.Query(context.Background(), Request{
		Query:           "tickets please",
		ExplicitSources: []string{"jira", "unknown-connector"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", resp.Status)
	}
	if len(resp.Results) != 1 || resp.Results[0].ConnectorID != "jira" {
		t.Errorf("Results = %+v, want jira only; unknown sources are skipped", resp.Results)
	}
}

func TestSynthesisFallsBackToConcatenation(t *testing.T) {
	env := newTestEnv(t, map[string]*fakeConn{
		"jira": {content: "5 open tickets"},
		"s3":   {content: "12 recent files"},
	})
	// Synthesis returns empty text, triggering the deterministic
	// fallback. No data may be lost.
	env.provider.responses = []*llm.CompletionResponse{{Text: ""}}

	resp, err := env.orch.Query(context.Background(), Request{
		Query:           "compare my tickets and files",
		ExplicitSources: []string{"jira", "s3"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(resp.Answer, "5 open tickets") || !strings.Contains(resp.Answer, "12 recent files") {
		t.Errorf("Answer = %q, want every source's data preserved", resp.Answer)
	}
}

func TestQueryHistoryFillsMissingArguments(t *testing.T) {
	conn := &fakeConn{content: "3 rows"}
	env := newTestEnv(t, map[string]*fakeConn{"jira": conn})

	_, err := env.orch.Query(context.Background(), Request{
		Query:           "tickets please",
		ExplicitSources: []string{"jira"},
		History: []llm.Message{
			{Role: llm.RoleUser, Content: "query the table users for me"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.lastArgs["table"] != "users" {
		t.Errorf("args = %v, want table inferred from history", conn.lastArgs)
	}
}

func TestQueryStreamEventOrder(t *testing.T) {
	env := newTestEnv(t, map[string]*fakeConn{
		"jira": {content: "5 open tickets"},
		"s3":   {content: "12 recent files"},
	})
	env.provider.responses = []*llm.CompletionResponse{
		{Text: "streamed synthesis"},
	}

	events, err := env.orch.QueryStream(context.Background(), Request{
		Query: "compare my open tickets with recent files",
	})
	if err != nil {
		t.Fatal(err)
	}

	var types []EventType
	var chunks []string
	var final *Response
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventSynthesisChunk {
			chunks = append(chunks, ev.Chunk)
		}
		if ev.Type == EventDone {
			final = ev.Response
		}
	}

	if len(types) < 4 {
		t.Fatalf("got %d events, want the full phase sequence: %v", len(types), types)
	}
	if types[0] != EventStarted || types[1] != EventPlanning || types[2] != EventPlanComplete {
		t.Errorf("prefix = %v, want started, planning, plan_complete", types[:3])
	}
	if types[len(types)-1] != EventDone {
		t.Errorf("last event = %s, want done", types[len(types)-1])
	}

	// Source events sit between plan_complete and the synthesis chunks.
	firstChunk := -1
	lastSource := -1
	for i, ty := range types {
		if ty == EventSynthesisChunk && firstChunk == -1 {
			firstChunk = i
		}
		if ty == EventSourceStart || ty == EventSourceComplete {
			lastSource = i
		}
	}
	if firstChunk != -1 && lastSource > firstChunk {
		t.Errorf("source event at %d after first synthesis chunk at %d", lastSource, firstChunk)
	}

	if got := strings.Join(chunks, ""); got != "streamed synthesis" {
		t.Errorf("reassembled chunks = %q, want the full synthesis text", got)
	}
	if final == nil || final.Status != StatusCompleted {
		t.Fatalf("final response = %+v, want completed", final)
	}
}

func TestSuggestSources(t *testing.T) {
	env := newTestEnv(t, nil)

	got := env.orch.SuggestSources(context.Background(), "show my open tickets")
	if len(got) == 0 || got[0].ConnectorID != "jira" {
		t.Errorf("SuggestSources = %+v, want jira first", got)
	}
}

func TestTruncateAtWordBoundary(t *testing.T) {
	long := strings.Repeat("alpha beta ", 400)

	got := truncateAtWordBoundary(long, 3000)
	if len(got) > 3003+1 {
		t.Errorf("truncated length %d exceeds budget", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected ellipsis suffix")
	}
	body := strings.TrimSuffix(got, "...")
	if strings.HasSuffix(body, "alph") || strings.HasSuffix(body, "bet") {
		t.Errorf("cut mid-word: ...%q", body[len(body)-10:])
	}

	if got := truncateAtWordBoundary("short", 3000); got != "short" {
		t.Errorf("short input changed: %q", got)
	}
}
