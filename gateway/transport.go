// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"nexus/engine/connectors/base"
)

// Conn is one live protocol session with a connector process.
type Conn interface {
	// ListTools fetches the connector's tool catalog.
	ListTools(ctx context.Context) ([]base.Tool, error)

	// CallTool invokes a tool and returns its raw outcome.
	CallTool(ctx context.Context, tool string, args map[string]interface{}) (*CallOutcome, error)

	// Close terminates the session and the underlying process.
	Close() error
}

// CallOutcome is the transport-level result of one tool call, before the
// gateway wraps it into a base.ToolResult.
type CallOutcome struct {
	Content    string
	Structured map[string]interface{}
	IsError    bool
}

// Transport opens connector sessions. The production implementation
// spawns MCP stdio child processes; tests substitute in-memory fakes.
type Transport interface {
	Connect(ctx context.Context, desc *base.ConnectorDescriptor) (Conn, error)
}

// StdioTransport spawns the descriptor's command as a child process and
// speaks MCP over its stdin/stdout. The SDK performs the initialize
// handshake during Connect.
type StdioTransport struct {
	ClientName    string
	ClientVersion string
}

// NewStdioTransport returns a stdio transport with default client info.
func NewStdioTransport() *StdioTransport {
	return &StdioTransport{ClientName: "nexus-gateway", ClientVersion: "1.0.0"}
}

// Connect spawns the connector process and completes the handshake.
func (t *StdioTransport) Connect(ctx context.Context, desc *base.ConnectorDescriptor) (Conn, error) {
	if len(desc.Command) == 0 {
		return nil, base.NewValidationError("", "command", "connector command is required for stdio transport")
	}

	cmd := exec.CommandContext(ctx, desc.Command[0], desc.Command[1:]...)
	cmd.Env = append(os.Environ(), formatEnv(desc.Env)...)

	client := mcp.NewClient(
		&mcp.Implementation{Name: t.ClientName, Version: t.ClientVersion},
		&mcp.ClientOptions{},
	)

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, base.NewConnectionError(desc.ID, fmt.Errorf("connect stdio: %w", err))
	}

	return &mcpConn{session: session, connectorID: desc.ID}, nil
}

type mcpConn struct {
	session     *mcp.ClientSession
	connectorID string
}

func (c *mcpConn) ListTools(ctx context.Context) ([]base.Tool, error) {
	result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, base.NewConnectionError(c.connectorID, fmt.Errorf("tools/list: %w", err))
	}

	tools := make([]base.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, base.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *mcpConn) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*CallOutcome, error) {
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: json.RawMessage(argBytes),
	})
	if err != nil {
		return nil, base.NewConnectionError(c.connectorID, fmt.Errorf("tools/call %s: %w", tool, err))
	}

	outcome := &CallOutcome{IsError: result.IsError}
	for _, block := range result.Content {
		if text, ok := block.(*mcp.TextContent); ok {
			outcome.Content += text.Text
		}
	}
	if result.StructuredContent != nil {
		if m, ok := result.StructuredContent.(map[string]interface{}); ok {
			outcome.Structured = m
		}
	}
	return outcome, nil
}

func (c *mcpConn) Close() error {
	return c.session.Close()
}

// schemaToMap converts the SDK schema type into a plain map so callers
// do not depend on the SDK.
func schemaToMap(schema interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
