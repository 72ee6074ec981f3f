// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"nexus/engine/llm"
)

const (
	// DefaultHighConfidence short-circuits LLM detection when rule
	// scoring alone is confident enough.
	DefaultHighConfidence = 0.8

	// DefaultMinConfidence drops candidates scored below it.
	DefaultMinConfidence = 0.5

	// DefaultMaxSources caps how many connectors one query fans out to.
	DefaultMaxSources = 3

	// defaultDetectionWeight applies when a connector profile carries no
	// explicit weight.
	defaultDetectionWeight = 0.35
)

// detectSources produces the candidate list for a query. Rule scoring
// always runs; the LLM is consulted only when the top rule score is not
// already high-confidence, and the two lists are merged preferring the
// higher confidence per connector.
func (o *Orchestrator) detectSources(ctx context.Context, query string) []SourceRelevance {
	ruleScores := o.scoreByRules(query)

	top := 0.0
	for _, s := range ruleScores {
		if s.Confidence > top {
			top = s.Confidence
		}
	}
	if top >= o.highConfidence {
		return ruleScores
	}

	llmScores, err := o.detectWithLLM(ctx, query)
	if err != nil {
		o.logger.Printf("LLM source detection failed, using rule scores only: %v", err)
		return ruleScores
	}

	return mergeRelevance(ruleScores, llmScores)
}

// scoreByRules scores every registered connector against the query:
// (keyword hits - negative hits) scaled by the connector weight, clamped
// to [0,1]. Connectors scoring zero are omitted.
func (o *Orchestrator) scoreByRules(query string) []SourceRelevance {
	lower := strings.ToLower(query)

	var scores []SourceRelevance
	for _, desc := range o.registry.All() {
		hits, matched := countKeywordHits(lower, desc.Detection.Keywords)
		negHits, _ := countKeywordHits(lower, desc.Detection.NegativeKeywords)

		raw := hits - negHits
		if raw <= 0 {
			continue
		}

		weight := desc.Detection.Weight
		if weight == 0 {
			weight = defaultDetectionWeight
		}
		confidence := float64(raw) * weight
		if confidence > 1 {
			confidence = 1
		}

		scores = append(scores, SourceRelevance{
			ConnectorID: desc.ID,
			Confidence:  confidence,
			Rationale:   "matched keywords: " + strings.Join(matched, ", "),
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Confidence > scores[j].Confidence })
	return scores
}

func countKeywordHits(lowerQuery string, keywords []string) (int, []string) {
	hits := 0
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerQuery, strings.ToLower(kw)) {
			hits++
			matched = append(matched, kw)
		}
	}
	return hits, matched
}

// llmRelevanceResponse is the shape requested from the model.
type llmRelevanceResponse struct {
	Sources []struct {
		ConnectorID       string  `json:"connector_id"`
		Confidence        float64 `json:"confidence"`
		Rationale         string  `json:"rationale"`
		SuggestedApproach string  `json:"suggested_approach"`
	} `json:"sources"`
}

// detectWithLLM asks the completion service which connectors are
// relevant. Unknown connector ids in the response are discarded.
func (o *Orchestrator) detectWithLLM(ctx context.Context, query string) ([]SourceRelevance, error) {
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		System:    o.relevancePrompt(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: query}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("relevance completion failed: %w", err)
	}

	responseStr := resp.Text
	jsonStart := strings.Index(responseStr, "{")
	jsonEnd := strings.LastIndex(responseStr, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("no JSON object in relevance response")
	}

	var parsed llmRelevanceResponse
	if err := json.Unmarshal([]byte(responseStr[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse relevance response: %w", err)
	}

	var scores []SourceRelevance
	for _, s := range parsed.Sources {
		if _, err := o.registry.Get(s.ConnectorID); err != nil {
			o.logger.Printf("LLM proposed unknown connector '%s', discarding", s.ConnectorID)
			continue
		}
		confidence := s.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		scores = append(scores, SourceRelevance{
			ConnectorID:       s.ConnectorID,
			Confidence:        confidence,
			Rationale:         s.Rationale,
			SuggestedApproach: s.SuggestedApproach,
		})
	}
	return scores, nil
}

func (o *Orchestrator) relevancePrompt() string {
	var b strings.Builder
	b.WriteString("You decide which data connectors are relevant to a user question. ")
	b.WriteString(`Respond ONLY with JSON shaped {"sources": [{"connector_id": "<id>", "confidence": 0.0, "rationale": "...", "suggested_approach": "..."}]}.`)
	b.WriteString("\n\nAvailable connectors:\n")
	for _, desc := range o.registry.All() {
		b.WriteString("- " + desc.ID)
		if desc.Description != "" {
			b.WriteString(": " + desc.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// mergeRelevance combines the rule-based and LLM lists, preferring the
// higher confidence per connector and concatenating rationale. This is
// defined for exactly these two lists; the policy is not associative
// across repeated merges.
func mergeRelevance(rules, llmScores []SourceRelevance) []SourceRelevance {
	byID := make(map[string]SourceRelevance, len(rules))
	order := make([]string, 0, len(rules)+len(llmScores))

	for _, s := range rules {
		byID[s.ConnectorID] = s
		order = append(order, s.ConnectorID)
	}

	for _, s := range llmScores {
		existing, ok := byID[s.ConnectorID]
		if !ok {
			byID[s.ConnectorID] = s
			order = append(order, s.ConnectorID)
			continue
		}

		merged := existing
		if s.Confidence > existing.Confidence {
			merged.Confidence = s.Confidence
		}
		if s.Rationale != "" {
			if merged.Rationale != "" {
				merged.Rationale += "; " + s.Rationale
			} else {
				merged.Rationale = s.Rationale
			}
		}
		if merged.SuggestedApproach == "" {
			merged.SuggestedApproach = s.SuggestedApproach
		}
		byID[s.ConnectorID] = merged
	}

	out := make([]SourceRelevance, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// buildPlan filters candidates by confidence threshold and the
// max-sources cap.
func buildPlan(candidates []SourceRelevance, minConfidence float64, maxSources int) *ExecutionPlan {
	plan := &ExecutionPlan{CreatedAt: time.Now()}
	for _, c := range candidates {
		if c.Confidence < minConfidence {
			continue
		}
		plan.Candidates = append(plan.Candidates, c)
		if len(plan.Candidates) >= maxSources {
			break
		}
	}
	return plan
}
