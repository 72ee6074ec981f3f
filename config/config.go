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

// Package config loads the engine configuration from a YAML file with
// ${VAR} / ${VAR:-default} environment expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nexus/engine/connectors/base"
)

// File is the root structure of a configuration file.
type File struct {
	Version      string                     `yaml:"version"`
	Provider     ProviderConfig             `yaml:"provider"`
	Cache        CacheConfig                `yaml:"cache,omitempty"`
	Redis        RedisConfig                `yaml:"redis,omitempty"`
	Orchestrator OrchestratorConfig         `yaml:"orchestrator,omitempty"`
	Connectors   map[string]ConnectorConfig `yaml:"connectors"`
}

// ProviderConfig configures the completion-service client.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Model      string `yaml:"model"`
	FastModel  string `yaml:"fast_model,omitempty"`
	TimeoutMs  int    `yaml:"timeout_ms,omitempty"`
	MaxTokens  int    `yaml:"max_tokens,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
}

// CacheConfig configures the in-memory store.
type CacheConfig struct {
	Capacity          int `yaml:"capacity,omitempty"`
	JanitorIntervalMs int `yaml:"janitor_interval_ms,omitempty"`
}

// Capacity returns the configured capacity or the default (1000).
func (c CacheConfig) CapacityOrDefault() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return 1000
}

// JanitorInterval returns the configured interval or the default (1m).
func (c CacheConfig) JanitorInterval() time.Duration {
	if c.JanitorIntervalMs > 0 {
		return time.Duration(c.JanitorIntervalMs) * time.Millisecond
	}
	return time.Minute
}

// RedisConfig configures the optional remote result-cache tier. An
// empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// OrchestratorConfig tunes planning and execution.
type OrchestratorConfig struct {
	HighConfidence  float64 `yaml:"high_confidence,omitempty"`
	MinConfidence   float64 `yaml:"min_confidence,omitempty"`
	MaxSources      int     `yaml:"max_sources,omitempty"`
	SourceTimeoutMs int     `yaml:"source_timeout_ms,omitempty"`
}

// SourceTimeout returns the configured per-source timeout or zero when
// unset.
func (c OrchestratorConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutMs) * time.Millisecond
}

// ConnectorConfig is one connector entry in the config file.
type ConnectorConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	DisplayName    string                `yaml:"display_name,omitempty"`
	Description    string                `yaml:"description,omitempty"`
	Command        []string              `yaml:"command"`
	Env            map[string]string     `yaml:"env,omitempty"`
	CacheableTools []string              `yaml:"cacheable_tools,omitempty"`
	PrewarmTools   []string              `yaml:"prewarm_tools,omitempty"`
	DirectRules    []base.DirectRule     `yaml:"direct_rules,omitempty"`
	Detection      base.DetectionProfile `yaml:"detection,omitempty"`
	TimeoutMs      int                   `yaml:"timeout_ms,omitempty"`
}

// Load reads, env-expands and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the parsed configuration for structural problems.
func (f *File) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}
	if f.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}

	for name, c := range f.Connectors {
		if !c.Enabled {
			continue
		}
		if len(c.Command) == 0 {
			return fmt.Errorf("connector '%s' must specify a command", name)
		}
		if c.Detection.Weight < 0 || c.Detection.Weight > 1 {
			return fmt.Errorf("connector '%s' detection weight must be between 0 and 1", name)
		}
		for i, rule := range c.DirectRules {
			if rule.Tool == "" {
				return fmt.Errorf("connector '%s' direct rule %d must name a tool", name, i)
			}
			if len(rule.Keywords) == 0 {
				return fmt.Errorf("connector '%s' direct rule %d must list keywords", name, i)
			}
		}
	}
	return nil
}

// Descriptors converts the enabled connector entries to registry
// descriptors.
func (f *File) Descriptors() []*base.ConnectorDescriptor {
	var out []*base.ConnectorDescriptor
	for id, c := range f.Connectors {
		if !c.Enabled {
			continue
		}

		timeout := time.Duration(c.TimeoutMs) * time.Millisecond

		out = append(out, &base.ConnectorDescriptor{
			ID:             id,
			DisplayName:    c.DisplayName,
			Description:    c.Description,
			Command:        c.Command,
			Env:            c.Env,
			CacheableTools: c.CacheableTools,
			PrewarmTools:   c.PrewarmTools,
			DirectRules:    c.DirectRules,
			Detection:      c.Detection,
			Timeout:        timeout,
		})
	}
	return out
}

// GenerateExampleConfigFile generates an example configuration file
func GenerateExampleConfigFile() string {
	return `# Nexus Engine Configuration
# This file configures connectors and the completion service
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax

version: "1.0"

provider:
  api_key: ${ANTHROPIC_API_KEY}
  model: claude-sonnet-4-20250514
  fast_model: claude-3-5-haiku-20241022
  timeout_ms: 120000

cache:
  capacity: 1000
  janitor_interval_ms: 60000

# Optional shared result cache across engine replicas
# redis:
#   addr: ${REDIS_ADDR:-localhost:6379}
#   password: ${REDIS_PASSWORD}

orchestrator:
  min_confidence: 0.5
  max_sources: 3
  source_timeout_ms: 60000

connectors:
  # S3 connector example
  s3:
    enabled: true
    display_name: "Object Storage"
    description: "S3 buckets and objects"
    command: ["/usr/local/bin/mcp-s3"]
    env:
      AWS_REGION: ${AWS_REGION:-us-east-1}
    cacheable_tools: [list_buckets, list_objects]
    prewarm_tools: [list_buckets]
    direct_rules:
      - keywords: [list, buckets]
        tool: list_buckets
    detection:
      keywords: [file, bucket, object, upload]
      weight: 0.3
    timeout_ms: 30000

  # Jira connector example
  jira:
    enabled: false  # Enable when configured
    display_name: "Jira"
    description: "Issues and tickets"
    command: ["/usr/local/bin/mcp-jira"]
    env:
      JIRA_TOKEN: ${JIRA_TOKEN}
    detection:
      keywords: [ticket, issue, sprint, backlog]
      negative_keywords: [file]
      weight: 0.35
    timeout_ms: 30000
`
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references, supporting
// ${VAR}, $VAR and ${VAR:-default}. Undefined variables expand to the
// default or the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
