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

// Package router resolves a natural-language message plus a connector
// into tool invocations and an answer, through three escalating tiers:
// direct keyword rules, a cheap-model routing call, and a full tool-use
// conversation loop.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"nexus/engine/connectors/base"
	"nexus/engine/connectors/registry"
	"nexus/engine/gateway"
	"nexus/engine/llm"
)

const (
	// MaxIterations caps the full-tier tool-use loop.
	MaxIterations = 25

	// BoundedIterations is the reduced cap when the caller wants to
	// bound cost.
	BoundedIterations = 10

	// MaxConsecutiveErrors aborts the full-tier loop. This is the
	// runaway-prevention guard.
	MaxConsecutiveErrors = 3

	// AbortMessage is the user-facing message after repeated failures.
	AbortMessage = "I wasn't able to complete that request after several attempts. Please try rephrasing your question."
)

// Tier identifies which routing tier produced a result.
type Tier string

const (
	TierDirect Tier = "direct"
	TierFast   Tier = "fast"
	TierFull   Tier = "full"
)

// Options modifies one routing pass.
type Options struct {
	// Identity scopes gateway sessions and the result cache.
	Identity string

	// ForceRefresh bypasses the gateway result cache.
	ForceRefresh bool

	// BoundedCost reduces the full-tier iteration cap.
	BoundedCost bool

	// History is the prior conversation, used for parameter completion
	// and carried into the full-tier loop.
	History []llm.Message
}

// Result is the outcome of routing and executing one query against one
// connector.
type Result struct {
	ConnectorID string
	Tier        Tier
	Answer      string
	ToolsCalled []string
	Results     []*base.ToolResult
}

// Router implements the three-tier resolution strategy.
type Router struct {
	registry *registry.Registry
	gateway  *gateway.Gateway
	provider llm.Provider

	// fastModel is the cheap model used by the fast tier; empty means
	// the provider default.
	fastModel string

	logger *log.Logger
}

// New creates a router.
func New(reg *registry.Registry, gw *gateway.Gateway, provider llm.Provider, fastModel string) *Router {
	return &Router{
		registry:  reg,
		gateway:   gw,
		provider:  provider,
		fastModel: fastModel,
		logger:    log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
	}
}

// Route resolves the message against one connector. Tiers are evaluated
// in order and the first producing a result wins; tool names always come
// from the connector's rules or catalog, never from thin air.
func (r *Router) Route(ctx context.Context, message, connectorID string, opts Options) (*Result, error) {
	desc, err := r.registry.Get(connectorID)
	if err != nil {
		return nil, err
	}

	if invs, err := r.resolveDirect(message, desc); err == nil {
		r.logger.Printf("Direct rule matched for connector %s (%d calls)", connectorID, len(invs))
		return r.executeResolved(ctx, TierDirect, invs, opts)
	} else if !errors.Is(err, base.ErrRoutingAmbiguous) {
		return nil, err
	}

	tools, err := r.gateway.DiscoverTools(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	if invs, err := r.resolveFast(ctx, message, desc, tools); err == nil && len(invs) > 0 {
		r.logger.Printf("Fast tier resolved connector %s (%d calls)", connectorID, len(invs))
		return r.executeResolved(ctx, TierFast, invs, opts)
	}

	return r.runFull(ctx, message, desc, tools, opts)
}

// ResolveDirect exposes tier 1 on its own for cheap pre-checks.
func (r *Router) ResolveDirect(message, connectorID string) ([]base.ToolInvocation, error) {
	desc, err := r.registry.Get(connectorID)
	if err != nil {
		return nil, err
	}
	return r.resolveDirect(message, desc)
}

// resolveDirect matches the connector's direct rules against the
// message. All keywords of a rule must appear, case-insensitively. On no
// match it returns ErrRoutingAmbiguous so the caller falls through.
func (r *Router) resolveDirect(message string, desc *base.ConnectorDescriptor) ([]base.ToolInvocation, error) {
	lower := strings.ToLower(message)

	for _, rule := range desc.DirectRules {
		if len(rule.Keywords) == 0 {
			continue
		}
		matched := true
		for _, kw := range rule.Keywords {
			if !strings.Contains(lower, strings.ToLower(kw)) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		args := make(map[string]interface{}, len(rule.DefaultArgs))
		for k, v := range rule.DefaultArgs {
			args[k] = v
		}
		return []base.ToolInvocation{{
			ConnectorID: desc.ID,
			Tool:        rule.Tool,
			Arguments:   args,
		}}, nil
	}

	return nil, base.ErrRoutingAmbiguous
}

// resolveFast asks the cheap model for a JSON array of tool calls given
// an abbreviated catalog. Parse failures and unknown tool names are
// discarded; the caller proceeds to the full tier.
func (r *Router) resolveFast(ctx context.Context, message string, desc *base.ConnectorDescriptor, tools []base.Tool) ([]base.ToolInvocation, error) {
	if len(tools) == 0 {
		return nil, base.ErrRoutingAmbiguous
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Model:     r.fastModel,
		System:    fastSystemPrompt(desc, tools),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: message}},
		MaxTokens: 1024,
	})
	if err != nil {
		r.logger.Printf("Fast tier call failed for connector %s: %v", desc.ID, err)
		return nil, base.ErrRoutingAmbiguous
	}

	parsed, err := parseToolCallArray(resp.Text)
	if err != nil || len(parsed) == 0 {
		return nil, base.ErrRoutingAmbiguous
	}

	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}

	invs := make([]base.ToolInvocation, 0, len(parsed))
	for _, call := range parsed {
		if !known[call.Tool] {
			r.logger.Printf("Fast tier proposed unknown tool '%s' for connector %s, discarding", call.Tool, desc.ID)
			return nil, base.ErrRoutingAmbiguous
		}
		invs = append(invs, base.ToolInvocation{
			ConnectorID: desc.ID,
			Tool:        call.Tool,
			Arguments:   call.Arguments,
		})
	}
	return invs, nil
}

// executeResolved runs pre-resolved invocations through the gateway and
// formats their raw content as the answer.
func (r *Router) executeResolved(ctx context.Context, tier Tier, invs []base.ToolInvocation, opts Options) (*Result, error) {
	result := &Result{Tier: tier}

	var parts []string
	for _, inv := range invs {
		result.ConnectorID = inv.ConnectorID

		if filled, ok := InferMissingArg(inv.Tool, inv.Arguments, opts.History); ok {
			inv.Arguments = filled
		}

		toolResult, err := r.gateway.Invoke(ctx, inv, gateway.InvokeOptions{
			Identity:     opts.Identity,
			ForceRefresh: opts.ForceRefresh,
		})
		if err != nil {
			return nil, err
		}

		result.ToolsCalled = append(result.ToolsCalled, inv.Tool)
		result.Results = append(result.Results, toolResult)
		if toolResult.IsError {
			return nil, base.NewToolExecutionError(inv.ConnectorID, inv.Tool, toolResult.Content)
		}
		parts = append(parts, toolResult.Content)
	}

	result.Answer = strings.Join(parts, "\n")
	return result, nil
}

// fastToolCall is the constrained shape the fast tier expects back.
type fastToolCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// parseToolCallArray extracts the first top-level JSON array from the
// model's response and decodes it.
func parseToolCallArray(text string) ([]fastToolCall, error) {
	jsonStart := strings.Index(text, "[")
	jsonEnd := strings.LastIndex(text, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var calls []fastToolCall
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &calls); err != nil {
		return nil, fmt.Errorf("failed to parse tool call array: %w", err)
	}
	return calls, nil
}

// domainGuidance is shared between the direct rules' configuration and
// both model tiers so all tiers route consistently.
const domainGuidance = `Routing rules:
- A person's name implies reading their direct messages, not searching channels.
- "my" or "mine" refers to the requesting user's own resources.
- Listing requests map to list tools; lookups of one item map to get/read tools.
- Never invent tool names; only use tools from the catalog you were given.`

func fastSystemPrompt(desc *base.ConnectorDescriptor, tools []base.Tool) string {
	var b strings.Builder
	b.WriteString("You route user requests to connector tools. Respond ONLY with a JSON array of tool calls, ")
	b.WriteString(`each shaped {"tool": "<name>", "arguments": {...}}. Respond with [] if no tool fits.`)
	b.WriteString("\n\n")
	b.WriteString(domainGuidance)
	b.WriteString("\n\nConnector: ")
	b.WriteString(desc.ID)
	if desc.Description != "" {
		b.WriteString(" (" + desc.Description + ")")
	}
	b.WriteString("\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- " + t.Name)
		if t.Description != "" {
			b.WriteString(": " + abbreviate(t.Description, 120))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func abbreviate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
