package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/takashabe/mcp-chat/internal/provider"
)

func main() {
	var (
		root          = flag.String("root", ".", "Workspace root directory")
		serverName    = flag.String("name", "xcf", "Server name, also used as the umbrella tool name")
		serverVersion = flag.String("version", "1.0.0", "Server version")
		cacheTTL      = flag.Duration("cache-ttl", 30*time.Second, "TTL of directory listing and search results (0 disables)")
	)
	flag.Parse()

	// stdout はプロトコル専用なのでログは stderr へ
	log.SetOutput(os.Stderr)

	// サーバー設定
	config := provider.Config{
		ServerName:    *serverName,
		ServerVersion: *serverVersion,
		Root:          *root,
		CacheTTL:      *cacheTTL,
	}

	// サーバーを作成
	mcpServer, err := provider.NewFileMCPServer(config)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// コンテキストとシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// サーバー開始
	if err := mcpServer.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		log.Printf("Server stopped: %v", err)
	}

	log.Println("Server shutdown complete")
}
