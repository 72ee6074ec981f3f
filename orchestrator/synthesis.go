// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"nexus/engine/llm"
)

// SynthesisCharBudget bounds how much of each source's result is fed
// into the synthesis prompt.
const SynthesisCharBudget = 3000

const synthesisSystemPrompt = "You combine results from multiple data sources into one coherent answer. " +
	"Attribute each fact to its source by name. If sources contradict each other, say so explicitly. " +
	"Do not invent information absent from the sources."

// synthesize produces the final answer from successful source results.
// One source returns its raw answer; several go through a synthesis
// completion, falling back to deterministic concatenation if that call
// fails. Data is never dropped silently.
func (o *Orchestrator) synthesize(ctx context.Context, query string, successes []SourceResult) (string, error) {
	if len(successes) == 0 {
		return "", fmt.Errorf("no successful sources to synthesize")
	}
	if len(successes) == 1 {
		return successes[0].Data, nil
	}

	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		System:    synthesisSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: o.synthesisUserPrompt(query, successes)}},
		MaxTokens: 2048,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		o.logger.Printf("Synthesis call failed, falling back to concatenation: %v", err)
		return o.concatenate(successes), nil
	}
	return resp.Text, nil
}

// synthesizeStream is the streaming variant: synthesis output is
// forwarded chunk-wise through emit. Returns the full answer.
func (o *Orchestrator) synthesizeStream(ctx context.Context, query string, successes []SourceResult, emit func(chunk string) bool) (string, error) {
	if len(successes) == 0 {
		return "", fmt.Errorf("no successful sources to synthesize")
	}
	if len(successes) == 1 {
		emit(successes[0].Data)
		return successes[0].Data, nil
	}

	bridge := llm.NewStreamBridge(ctx, o.provider, llm.CompletionRequest{
		System:    synthesisSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: o.synthesisUserPrompt(query, successes)}},
		MaxTokens: 2048,
	}, 0)
	defer bridge.Close()

	for delta := range bridge.Deltas() {
		if delta.Type == llm.DeltaText && delta.Text != "" {
			if !emit(delta.Text) {
				return "", ctx.Err()
			}
		}
	}

	resp, err := bridge.Wait()
	if err != nil || resp == nil || strings.TrimSpace(resp.Text) == "" {
		o.logger.Printf("Streamed synthesis failed, falling back to concatenation: %v", err)
		answer := o.concatenate(successes)
		emit(answer)
		return answer, nil
	}
	return resp.Text, nil
}

func (o *Orchestrator) synthesisUserPrompt(query string, successes []SourceResult) string {
	var b strings.Builder
	b.WriteString("Question: " + query + "\n\n")
	for _, s := range successes {
		b.WriteString("=== Source: " + o.displayName(s.ConnectorID) + " ===\n")
		b.WriteString(truncateAtWordBoundary(s.Data, SynthesisCharBudget))
		b.WriteString("\n\n")
	}
	b.WriteString("Combine these into one answer for the question above.")
	return b.String()
}

// concatenate is the deterministic fallback when synthesis fails: every
// source's data, clearly labeled.
func (o *Orchestrator) concatenate(successes []SourceResult) string {
	var b strings.Builder
	for i, s := range successes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("From " + o.displayName(s.ConnectorID) + ":\n")
		b.WriteString(s.Data)
	}
	return b.String()
}

func (o *Orchestrator) displayName(connectorID string) string {
	if desc, err := o.registry.Get(connectorID); err == nil && desc.DisplayName != "" {
		return desc.DisplayName
	}
	return connectorID
}

// truncateAtWordBoundary cuts s to at most budget characters, backing up
// to the previous word break when one exists in the second half.
func truncateAtWordBoundary(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := s[:budget]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > budget/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
