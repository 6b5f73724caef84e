package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/takashabe/mcp-chat/internal/agent"
	"github.com/takashabe/mcp-chat/internal/chat"
	"github.com/takashabe/mcp-chat/internal/completion"
	"github.com/takashabe/mcp-chat/internal/config"
	"github.com/takashabe/mcp-chat/pkg/types"
)

type flags struct {
	configPath string
	server     string
	model      string
	filter     string
	stream     bool
	command    bool
	quiet      bool
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "mcp-chat.json", "Config file (.json, .yaml or .toml)")
	fs.StringVarP(&f.server, "server", "s", "", "Server from mcpServers to connect to (default: first by name)")
	fs.StringVarP(&f.model, "model", "m", "", "Override the chat model")
	fs.StringVar(&f.filter, "filter", "", "CEL expression selecting the tools offered to the model")
	fs.BoolVar(&f.stream, "stream", true, "Stream answers as they arrive")
	fs.BoolVar(&f.command, "command-mode", false, "Start in command mode")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Suppress log output")
}

// app is a connected provider with an agent on top.
type app struct {
	conn       *chat.Connection
	agent      *agent.Agent
	controller *chat.Controller
}

func (f *flags) open(ctx context.Context) (*app, error) {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if f.quiet {
		logger.SetOutput(io.Discard)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.model != "" {
		cfg.Chat.Model = f.model
	}
	if f.filter != "" {
		cfg.Chat.ExportFilter = f.filter
	}

	name, srv, err := cfg.Server(f.server)
	if err != nil {
		return nil, err
	}
	conn, err := chat.Launch(ctx, name, srv, chat.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	if err := conn.Registry().SetExportFilter(cfg.Chat.ExportFilter); err != nil {
		_ = conn.Close()
		return nil, err
	}

	llm := completion.New(completion.Config{
		BaseURL: cfg.Chat.BaseURL,
		APIKey:  cfg.Chat.APIKey,
		Model:   cfg.Chat.Model,
	})
	opts := []agent.Option{
		agent.WithModel(cfg.Chat.Model),
		agent.WithTemperature(cfg.Chat.Temperature),
		agent.WithMaxTokens(cfg.Chat.MaxTokens),
		agent.WithMaxIterations(cfg.Chat.MaxIterations),
		agent.WithLogger(logger),
	}
	if cfg.Chat.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Chat.SystemPrompt))
	}
	a, err := agent.New(llm, conn.Registry(), opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	controller := chat.NewController(conn, a)
	controller.SetCommandMode(f.command)
	return &app{conn: conn, agent: a, controller: controller}, nil
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "mcp-chat",
		Short:         "Chat with a model that can use the tools of an MCP provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, f)
		},
	}
	f.register(cmd.PersistentFlags())

	cmd.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start an interactive session (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runChat(cmd, f)
			},
		},
		&cobra.Command{
			Use:   "tools [query]",
			Short: "List the provider's tools",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTools(cmd, f, strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "call <command> [args...]",
			Short: "Route one command to a tool without the model",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCall(cmd, f, strings.Join(args, " "))
			},
		},
	)
	return cmd
}

func runChat(cmd *cobra.Command, f *flags) error {
	ctx := cmd.Context()
	a, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer a.conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s with %d tools. Type /mode to switch modes, Ctrl-D to quit.\n",
		a.conn.Provider, len(a.conn.Registry().Tools()))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, prompt(a.controller))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		if !f.stream {
			printReply(out, a.controller.Submit(ctx, line))
			continue
		}
		for chunk, err := range a.controller.Stream(ctx, line) {
			if err != nil {
				fmt.Fprint(out, types.Describe(err))
				break
			}
			fmt.Fprint(out, chunk)
		}
		fmt.Fprintln(out)
	}
}

func prompt(c *chat.Controller) string {
	if c.CommandMode() {
		return "cmd> "
	}
	return "> "
}

func printReply(w io.Writer, r chat.Reply) {
	fmt.Fprintln(w, r.Text)
	if r.Response != nil && len(r.Response.ToolsExecuted) > 0 {
		fmt.Fprintf(w, "(tools: %s, confidence %.2f)\n", strings.Join(r.Response.ToolsExecuted, ", "), r.Response.Confidence)
	}
}

func runTools(cmd *cobra.Command, f *flags, query string) error {
	a, err := f.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.conn.Close()

	out := cmd.OutOrStdout()
	for _, t := range a.conn.Registry().Search(query) {
		fmt.Fprintf(out, "%s: %s\n", t.Name, t.Description)
		for _, p := range t.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(out, "  %s (%s%s) %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return nil
}

func runCall(cmd *cobra.Command, f *flags, line string) error {
	a, err := f.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.conn.Close()

	a.controller.SetCommandMode(true)
	reply := a.controller.Submit(cmd.Context(), line)
	if reply.Err != nil {
		return reply.Err
	}
	if reply.Route != nil && !f.quiet {
		route, _ := json.Marshal(map[string]string{"tool": reply.Route.Tool, "rule": reply.Route.Rule.String()})
		fmt.Fprintln(cmd.ErrOrStderr(), string(route))
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	return nil
}
