// Package mcptest provides an in-process tool provider that speaks the MCP
// JSON-RPC protocol over a transport, for tests.
package mcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/takashabe/mcp-chat/internal/transport"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// Tool is a fake provider tool. Schema is sent verbatim as inputSchema, so
// tests can ship malformed shapes.
type Tool struct {
	Name        string
	Description string
	Schema      any
	Category    string
	Examples    []string
	Handler     func(args map[string]any) (content []map[string]any, isError bool, err error)
}

// Call records one tools/call request.
type Call struct {
	Name      string
	Arguments map[string]any
}

type Server struct {
	mu       sync.Mutex
	tools    []Tool
	calls    []Call
	pageSize int
	notified []string
	peers    []transport.Transport
}

func NewServer(tools ...Tool) *Server {
	return &Server{tools: tools}
}

// SetTools replaces the advertised tool set.
func (s *Server) SetTools(tools ...Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// SetPageSize makes tools/list paginate with nextCursor.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) Notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notified...)
}

// Serve answers requests read from t until the transport closes.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	for {
		frame, err := t.Receive()
		if err != nil {
			return err
		}
		var req types.Message
		if err := json.Unmarshal(frame, &req); err != nil {
			if err := s.send(ctx, t, createError(nil, types.CodeParseError, "Parse error")); err != nil {
				return err
			}
			continue
		}
		resp := s.HandleRequest(&req)
		if resp == nil {
			continue
		}
		if err := s.send(ctx, t, resp); err != nil {
			return err
		}
	}
}

// Start serves t on a new goroutine and closes it when ctx is done.
func (s *Server) Start(ctx context.Context, t transport.Transport) {
	s.mu.Lock()
	s.peers = append(s.peers, t)
	s.mu.Unlock()
	go func() { _ = s.Serve(ctx, t) }()
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()
}

// Notify sends a notification to every connected client.
func (s *Server) Notify(ctx context.Context, method string) error {
	s.mu.Lock()
	peers := append([]transport.Transport(nil), s.peers...)
	s.mu.Unlock()
	for _, t := range peers {
		if err := s.send(ctx, t, &types.Message{JSONRPC: types.JSONRPCVersion, Method: method}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) send(ctx context.Context, t transport.Transport, msg *types.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.Send(ctx, payload)
}

// HandleRequest returns the response for req, or nil for notifications.
func (s *Server) HandleRequest(req *types.Message) *types.Message {
	if !req.HasID() {
		s.mu.Lock()
		s.notified = append(s.notified, req.Method)
		s.mu.Unlock()
		return nil
	}

	switch req.Method {
	case types.MethodInitialize:
		return createResult(req.ID, types.InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      types.ClientInfo{Name: "mcptest", Version: "0.1.0"},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case types.MethodPing:
		return createResult(req.ID, map[string]any{})
	case types.MethodListTools:
		return s.handleListTools(req)
	case types.MethodCallTool:
		return s.handleCallTool(req)
	default:
		return createError(req.ID, types.CodeMethodNotFound, "Method not found")
	}
}

func (s *Server) handleListTools(req *types.Message) *types.Message {
	var params types.ListToolsParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if params.Cursor != "" {
		if _, err := fmt.Sscanf(params.Cursor, "page-%d", &start); err != nil {
			return createError(req.ID, types.CodeInvalidParams, "Invalid cursor")
		}
	}
	end := len(s.tools)
	next := ""
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
		next = fmt.Sprintf("page-%d", end)
	}

	tools := make([]map[string]any, 0, end-start)
	for _, tool := range s.tools[start:end] {
		def := map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
		}
		if tool.Schema != nil {
			def["inputSchema"] = tool.Schema
		}
		if tool.Category != "" {
			def["category"] = tool.Category
		}
		if len(tool.Examples) > 0 {
			def["examples"] = tool.Examples
		}
		tools = append(tools, def)
	}

	result := map[string]any{"tools": tools}
	if next != "" {
		result["nextCursor"] = next
	}
	return createResult(req.ID, result)
}

func (s *Server) handleCallTool(req *types.Message) *types.Message {
	var params types.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return createError(req.ID, types.CodeInvalidParams, "Invalid params")
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Name: params.Name, Arguments: params.Arguments})
	var tool *Tool
	for i := range s.tools {
		if s.tools[i].Name == params.Name {
			tool = &s.tools[i]
			break
		}
	}
	s.mu.Unlock()

	if tool == nil {
		return createError(req.ID, types.CodeInvalidParams, fmt.Sprintf("Tool not found: %s", params.Name))
	}
	if tool.Handler == nil {
		return createResult(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
		})
	}

	content, isError, err := tool.Handler(params.Arguments)
	if err != nil {
		return createError(req.ID, types.CodeInternalError, err.Error())
	}
	result := map[string]any{"content": content}
	if isError {
		result["isError"] = true
	}
	return createResult(req.ID, result)
}

// Text is a handler helper returning a single text segment.
func Text(text string) []map[string]any {
	return []map[string]any{{"type": "text", "text": text}}
}

func createResult(id json.RawMessage, result any) *types.Message {
	raw, err := json.Marshal(result)
	if err != nil {
		return createError(id, types.CodeInternalError, err.Error())
	}
	return &types.Message{JSONRPC: types.JSONRPCVersion, ID: id, Result: raw}
}

func createError(id json.RawMessage, code int, message string) *types.Message {
	return &types.Message{
		JSONRPC: types.JSONRPCVersion,
		ID:      id,
		Error:   &types.RPCError{Code: code, Message: message},
	}
}
