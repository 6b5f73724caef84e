package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/takashabe/mcp-chat/pkg/types"
)

// ProtocolVersion is the MCP revision sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

// Caller is the subset of rpc.Session the client needs.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
}

// Client speaks the tool-provider protocol on top of a JSON-RPC session.
type Client struct {
	caller  Caller
	timeout time.Duration
	info    types.ClientInfo
}

// NewClient wraps caller. timeout bounds every request; zero leaves the
// bound to the caller's context.
func NewClient(caller Caller, timeout time.Duration) *Client {
	return &Client{
		caller:  caller,
		timeout: timeout,
		info:    types.ClientInfo{Name: "mcp-chat", Version: "1.0.0"},
	}
}

// Initialize performs the MCP initialize handshake and sends the
// initialized notification. Must be called before any tool calls.
func (c *Client) Initialize(ctx context.Context) (*types.InitializeResult, error) {
	raw, err := c.caller.Call(ctx, types.MethodInitialize, types.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.info,
		Capabilities:    map[string]any{},
	}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("MCP initialize handshake failed: %w", err)
	}

	var result types.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal InitializeResult: %w", err)
	}

	if err := c.caller.Notify(ctx, types.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("MCP initialized notification failed: %w", err)
	}
	return &result, nil
}

// ListTools calls tools/list, following nextCursor until the provider
// stops paginating.
func (c *Client) ListTools(ctx context.Context) ([]types.Tool, error) {
	var (
		tools  []types.Tool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = types.ListToolsParams{Cursor: cursor}
		}
		raw, err := c.caller.Call(ctx, types.MethodListTools, params, c.timeout)
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}

		var page types.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ListToolsResult: %w", err)
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool by name. Tool failures arrive as a result with
// IsError set, not as a Go error; errors indicate protocol-level failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*types.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.caller.Call(ctx, types.MethodCallTool, types.CallToolParams{
		Name:      name,
		Arguments: args,
	}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("tools/call %q failed: %w", name, err)
	}
	return DecodeCallToolResult(raw)
}
