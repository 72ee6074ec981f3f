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

// Package base defines the shared types for connector descriptors, tools
// and tool invocations. Connectors are opaque external processes speaking
// the MCP tool protocol; this package only describes them.
package base

import (
	"time"
)

// Tool is a named, schema-described operation a connector can perform.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// DirectRule maps keyword matches in a user message directly to a tool
// call, bypassing any model. All keywords must appear (case-insensitive)
// for the rule to fire.
type DirectRule struct {
	Keywords    []string               `json:"keywords" yaml:"keywords"`
	Tool        string                 `json:"tool" yaml:"tool"`
	DefaultArgs map[string]interface{} `json:"default_args,omitempty" yaml:"default_args,omitempty"`
}

// DetectionProfile drives rule-based source relevance scoring for one
// connector: keyword hits minus negative-keyword hits, scaled by Weight
// and clamped to [0,1].
type DetectionProfile struct {
	Keywords         []string `json:"keywords" yaml:"keywords"`
	NegativeKeywords []string `json:"negative_keywords,omitempty" yaml:"negative_keywords,omitempty"`
	Weight           float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// ConnectorDescriptor describes one registered connector. Descriptors are
// immutable after registration and owned by the process-wide registry.
type ConnectorDescriptor struct {
	// ID is the unique connector identifier (e.g. "s3", "jira").
	ID string `json:"id" yaml:"id"`

	// DisplayName is a human-readable name for UIs and synthesis output.
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`

	// Description tells the router what kind of questions this connector
	// answers. Included in abbreviated tool catalogs sent to the model.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Command is the connector server process (argv form). The gateway
	// spawns it per session and speaks MCP over stdio.
	Command []string `json:"command" yaml:"command"`

	// Env holds extra environment variables for the connector process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// CacheableTools lists tool names that are side-effect-free and safe
	// to serve from the result cache.
	CacheableTools []string `json:"cacheable_tools,omitempty" yaml:"cacheable_tools,omitempty"`

	// PrewarmTools lists tools whose catalogs are primed at startup.
	PrewarmTools []string `json:"prewarm_tools,omitempty" yaml:"prewarm_tools,omitempty"`

	// DirectRules are the zero-latency routing rules for this connector.
	DirectRules []DirectRule `json:"direct_rules,omitempty" yaml:"direct_rules,omitempty"`

	// Detection drives rule-based source relevance scoring.
	Detection DetectionProfile `json:"detection,omitempty" yaml:"detection,omitempty"`

	// Timeout bounds a single RPC call to this connector (default 30s).
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-"`
}

// IsCacheable reports whether results of the named tool may be cached.
func (d *ConnectorDescriptor) IsCacheable(tool string) bool {
	for _, t := range d.CacheableTools {
		if t == tool {
			return true
		}
	}
	return false
}

// CallTimeout returns the per-call timeout, defaulting to 30 seconds.
func (d *ConnectorDescriptor) CallTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 30 * time.Second
}

// ToolInvocation is a fully resolved request to call one connector tool.
// Arguments may still be incomplete; parameter completion runs before the
// gateway executes it.
type ToolInvocation struct {
	ConnectorID string                 `json:"connector_id"`
	Tool        string                 `json:"tool"`
	Arguments   map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of one tool invocation as seen by callers of
// the gateway.
type ToolResult struct {
	ConnectorID string                 `json:"connector_id"`
	Tool        string                 `json:"tool"`
	Content     string                 `json:"content"`
	Structured  map[string]interface{} `json:"structured,omitempty"`
	IsError     bool                   `json:"is_error"`
	Cached      bool                   `json:"cached"`
	Duration    time.Duration          `json:"duration"`
}
