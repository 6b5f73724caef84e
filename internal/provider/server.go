// Package provider is a file workspace tool provider served over MCP with
// the go-sdk. It backs the chat client's integration tests and doubles as a
// standalone provider binary.
package provider

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FileMCPServer はワークスペース操作用のMCPサーバー
type FileMCPServer struct {
	server    *mcp.Server
	workspace *Workspace
	umbrella  *Umbrella
	started   time.Time
}

// Config はサーバーの設定
type Config struct {
	ServerName    string
	ServerVersion string
	Root          string
	CacheTTL      time.Duration
}

// NewFileMCPServer は新しいサーバーインスタンスを作成
func NewFileMCPServer(config Config) (*FileMCPServer, error) {
	impl := &mcp.Implementation{
		Name:    config.ServerName,
		Version: config.ServerVersion,
	}
	server := mcp.NewServer(impl, nil)

	workspace, err := NewWorkspace(config.Root, NewListingCache(config.CacheTTL))
	if err != nil {
		return nil, err
	}

	s := &FileMCPServer{
		server:    server,
		workspace: workspace,
		started:   time.Now(),
	}
	s.umbrella = NewUmbrella(config.ServerName, s)

	// ツールを登録
	s.registerTools()

	return s, nil
}

// registerTools は利用可能なツールを登録
func (s *FileMCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		InputSchema: objectSchema([]string{"path"}, map[string]*jsonschema.Schema{
			"path": {Type: "string", Description: "File path relative to the workspace root"},
		}),
	}, handle(func(_ context.Context, args ReadFileArgs) (string, error) {
		return s.workspace.ReadFile(args)
	}))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory. Directories end with a slash.",
		InputSchema: objectSchema(nil, map[string]*jsonschema.Schema{
			"path": {Type: "string", Description: "Directory relative to the workspace root (default: .)"},
		}),
	}, handle(func(_ context.Context, args ListDirArgs) (string, error) {
		names, err := s.workspace.ListDir(args)
		if err != nil {
			return "", err
		}
		return joinLines(names, "(empty directory)"), nil
	}))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_files",
		Description: "Find files whose name matches a glob or contains a substring.",
		InputSchema: objectSchema([]string{"pattern"}, map[string]*jsonschema.Schema{
			"pattern": {Type: "string", Description: "Glob such as *.go, or a plain substring"},
			"path":    {Type: "string", Description: "Directory to search (default: .)"},
		}),
	}, handle(func(_ context.Context, args SearchFilesArgs) (string, error) {
		found, err := s.workspace.SearchFiles(args)
		if err != nil {
			return "", err
		}
		return joinLines(found, "No files found."), nil
	}))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace.",
		InputSchema: objectSchema([]string{"path", "content"}, map[string]*jsonschema.Schema{
			"path":    {Type: "string", Description: "File path relative to the workspace root"},
			"content": {Type: "string", Description: "Full file content"},
		}),
	}, handle(func(_ context.Context, args WriteFileArgs) (string, error) {
		return s.workspace.WriteFile(args)
	}))

	umbrellaSchema := objectSchema([]string{"command"}, map[string]*jsonschema.Schema{
		"command": {Type: "string", Description: "Sub-command and its arguments, e.g. \"help\" or \"list\""},
	})
	umbrellaSchema.Examples = s.umbrella.Examples()
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        s.umbrella.Name(),
		Description: s.umbrella.Description(),
		InputSchema: umbrellaSchema,
	}, handle(func(_ context.Context, args UmbrellaArgs) (string, error) {
		return s.umbrella.Execute(args)
	}))
}

// Server は内部の mcp.Server を返す
func (s *FileMCPServer) Server() *mcp.Server {
	return s.server
}

// Run は指定したトランスポートでサーバーを実行する
func (s *FileMCPServer) Run(ctx context.Context, t mcp.Transport) error {
	log.Printf("Serving workspace %s as %s", s.workspace.Root(), s.umbrella.Name())
	return s.server.Run(ctx, t)
}

// toolNames は umbrella の list コマンド用
func (s *FileMCPServer) toolNames() []string {
	return []string{"read_file", "list_dir", "search_files", "write_file", s.umbrella.Name()}
}

// handle はテキストを返す関数を go-sdk のハンドラーに変換する
// エラーは isError 付きの結果として返す
func handle[In any](fn func(ctx context.Context, args In) (string, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[In]) (*mcp.CallToolResultFor[any], error) {
		text, err := fn(ctx, params.Arguments)
		if err != nil {
			return &mcp.CallToolResultFor[any]{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func joinLines(lines []string, empty string) string {
	if len(lines) == 0 {
		return empty
	}
	return strings.Join(lines, "\n")
}
