// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nexus/engine/connectors/base"
	"nexus/engine/gateway"
	"nexus/engine/llm"
)

// runFull drives the multi-turn tool-use conversation with the strong
// model. Tool errors are fed back as error tool turns so the model can
// self-correct; MaxConsecutiveErrors failures in a row abort the loop
// with a user-facing message instead of looping indefinitely.
func (r *Router) runFull(ctx context.Context, message string, desc *base.ConnectorDescriptor, tools []base.Tool, opts Options) (*Result, error) {
	maxIter := MaxIterations
	if opts.BoundedCost {
		maxIter = BoundedIterations
	}

	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	messages := append([]llm.Message{}, opts.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	result := &Result{ConnectorID: desc.ID, Tier: TierFull}
	consecutiveErrors := 0

	for iteration := 0; iteration < maxIter; iteration++ {
		resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
			System:   fullSystemPrompt(desc),
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			return nil, fmt.Errorf("completion failed on iteration %d: %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Text
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		turnHadError := false
		for _, call := range resp.ToolCalls {
			turn := r.executeToolCall(ctx, desc, call, opts, result)
			if turn.IsError {
				turnHadError = true
			}
			messages = append(messages, turn)
		}

		if turnHadError {
			consecutiveErrors++
			if consecutiveErrors >= MaxConsecutiveErrors {
				r.logger.Printf("Aborting full-tier loop for connector %s after %d consecutive errors", desc.ID, consecutiveErrors)
				result.Answer = AbortMessage
				return result, nil
			}
		} else {
			consecutiveErrors = 0
		}
	}

	r.logger.Printf("Full-tier loop for connector %s hit iteration cap %d", desc.ID, maxIter)
	result.Answer = AbortMessage
	return result, nil
}

// executeToolCall runs one model-requested call through the gateway and
// converts the outcome, success or failure, into a tool-result turn.
func (r *Router) executeToolCall(ctx context.Context, desc *base.ConnectorDescriptor, call llm.ToolCall, opts Options, result *Result) llm.Message {
	inv := base.ToolInvocation{
		ConnectorID: desc.ID,
		Tool:        call.Name,
		Arguments:   call.Arguments,
	}
	if filled, ok := InferMissingArg(inv.Tool, inv.Arguments, opts.History); ok {
		inv.Arguments = filled
	}

	result.ToolsCalled = append(result.ToolsCalled, call.Name)

	toolResult, err := r.gateway.Invoke(ctx, inv, gateway.InvokeOptions{
		Identity:     opts.Identity,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    formatErrorTurn(err),
			IsError:    true,
		}
	}

	result.Results = append(result.Results, toolResult)

	if toolResult.IsError {
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    formatErrorTurn(base.NewToolExecutionError(desc.ID, call.Name, toolResult.Content)),
			IsError:    true,
		}
	}

	content := toolResult.Content
	if content == "" && toolResult.Structured != nil {
		if data, err := json.Marshal(toolResult.Structured); err == nil {
			content = string(data)
		}
	}
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Content:    content,
	}
}

// formatErrorTurn renders an error as a structured tool-result payload
// the model can reason about.
func formatErrorTurn(err error) string {
	payload := map[string]string{"error": err.Error()}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return "error: " + err.Error()
	}
	return string(data)
}

func fullSystemPrompt(desc *base.ConnectorDescriptor) string {
	var b strings.Builder
	b.WriteString("You answer user questions by calling tools on the '")
	b.WriteString(desc.ID)
	b.WriteString("' connector")
	if desc.Description != "" {
		b.WriteString(" (" + desc.Description + ")")
	}
	b.WriteString(". Call tools as needed, then answer concisely using only tool results.\n\n")
	b.WriteString(domainGuidance)
	return b.String()
}
