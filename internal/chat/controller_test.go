package chat_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/takashabe/mcp-chat/internal/agent"
	"github.com/takashabe/mcp-chat/internal/chat"
	"github.com/takashabe/mcp-chat/internal/completion"
	"github.com/takashabe/mcp-chat/internal/config"
	"github.com/takashabe/mcp-chat/internal/mcp/mcptest"
	"github.com/takashabe/mcp-chat/internal/router"
	"github.com/takashabe/mcp-chat/internal/transport"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// canned answers every request with the same text.
type canned struct {
	mu     sync.Mutex
	answer string
	calls  int
}

func (c *canned) Complete(context.Context, completion.Request) (*completion.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &completion.Response{Content: c.answer, FinishReason: "stop"}, nil
}

func (c *canned) Stream(ctx context.Context, req completion.Request) iter.Seq2[completion.Delta, error] {
	return func(yield func(completion.Delta, error) bool) {
		resp, _ := c.Complete(ctx, req)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if !yield(completion.Delta{Content: word}, nil) {
				return
			}
		}
	}
}

func (c *canned) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func providerTools() []mcptest.Tool {
	return []mcptest.Tool{
		{
			Name:        "xcf",
			Description: "Umbrella command",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"command": map[string]any{"type": "string"}},
				"required":   []any{"command"},
			},
			Examples: []string{"xcf help", "xcf list", "xcf status"},
			Handler: func(args map[string]any) ([]map[string]any, bool, error) {
				return mcptest.Text(fmt.Sprintf("xcf: %v", args["command"])), false, nil
			},
		},
		{
			Name:        "read_file",
			Description: "Read a file",
			Schema: map[string]any{
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
			Handler: func(args map[string]any) ([]map[string]any, bool, error) {
				return mcptest.Text(fmt.Sprintf("contents of %v", args["path"])), false, nil
			},
		},
		{
			Name:        "status",
			Description: "Report provider status",
			Handler: func(map[string]any) ([]map[string]any, bool, error) {
				return mcptest.Text("all good"), false, nil
			},
		},
	}
}

var _ = Describe("Controller", func() {
	var (
		ctx        context.Context
		server     *mcptest.Server
		conn       *chat.Connection
		llm        *canned
		assistant  *agent.Agent
		controller *chat.Controller
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)

		server = mcptest.NewServer(providerTools()...)
		client, provider := transport.Pipe()
		server.Start(ctx, provider)

		logger := log.New(GinkgoWriter, "", 0)
		var err error
		conn, err = chat.Dial(ctx, "xcf", config.Server{TimeoutSeconds: 2}, client, chat.WithLogger(logger))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(conn.Close)

		llm = &canned{answer: "hello from the model"}
		assistant, err = agent.New(llm, conn.Registry(), agent.WithLogger(logger))
		Expect(err).ToNot(HaveOccurred())
		controller = chat.NewController(conn, assistant)
	})

	Context("connecting", func() {
		It("initializes and loads the tool list", func() {
			Expect(conn.Info.ServerInfo.Name).To(Equal("mcptest"))
			Expect(server.Notifications()).To(ContainElement(types.MethodInitialized))
			Expect(conn.Registry().Names()).To(Equal([]string{"xcf", "read_file", "status"}))
		})

		It("uses the tool named after the provider as the umbrella", func() {
			rc := conn.RouterContext()
			Expect(rc.Umbrella).To(Equal("xcf"))
			Expect(rc.MetaCommands).To(Equal([]string{"help", "list", "status"}))
			Expect(rc.Tools).To(ContainElement("read_file"))
		})

		It("refreshes when the provider announces a new tool list", func() {
			By("advertising an extra tool")
			server.SetTools(append(providerTools(), mcptest.Tool{Name: "write_file"})...)
			Expect(server.Notify(ctx, types.MethodToolsListChanged)).To(Succeed())

			Eventually(conn.Registry().Names).Should(ContainElement("write_file"))
		})
	})

	Context("commands", func() {
		It("routes meta-commands to the umbrella tool", func() {
			reply := controller.Submit(ctx, "/list")
			Expect(reply.Err).ToNot(HaveOccurred())
			Expect(reply.Source).To(Equal(agent.SourceServer))
			Expect(reply.Text).To(Equal("xcf: list"))
			Expect(reply.Route).ToNot(BeNil())
			Expect(reply.Route.Rule).To(Equal(router.RuleMetaCommand))
			Expect(server.Calls()).To(Equal([]mcptest.Call{
				{Name: "xcf", Arguments: map[string]any{"command": "list"}},
			}))
		})

		It("passes the rest of the line to a named tool", func() {
			reply := controller.Submit(ctx, "/read_file notes.txt")
			Expect(reply.Err).ToNot(HaveOccurred())
			Expect(reply.Text).To(Equal("contents of notes.txt"))
			Expect(reply.Route.Tool).To(Equal("read_file"))
		})

		It("logs the exchange without involving the model", func() {
			controller.Submit(ctx, "/status")

			entries := assistant.Entries()
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Source).To(Equal(agent.SourceUser))
			Expect(entries[1].Source).To(Equal(agent.SourceServer))
			Expect(assistant.History()).To(HaveLen(1))
			Expect(llm.Calls()).To(BeZero())
		})

		It("reports unknown tools as failures", func() {
			reply := controller.Submit(ctx, "/nosuch")
			Expect(reply.Source).To(Equal(agent.SourceError))
			Expect(reply.Text).To(HavePrefix(types.FailurePrefix))

			var notFound *types.ToolNotFoundError
			Expect(errors.As(reply.Err, &notFound)).To(BeTrue())
			Expect(notFound.Name).To(Equal("nosuch"))
		})

		It("treats every line as a command in command mode", func() {
			Expect(controller.Submit(ctx, "/mode command").Text).To(Equal("Command mode."))
			Expect(controller.CommandMode()).To(BeTrue())

			reply := controller.Submit(ctx, "help me out")
			Expect(reply.Text).To(Equal("xcf: help me out"))

			Expect(controller.Submit(ctx, "/mode").Text).To(Equal("Chat mode."))
			Expect(controller.CommandMode()).To(BeFalse())
		})
	})

	Context("chat", func() {
		It("sends plain text to the agent", func() {
			reply := controller.Submit(ctx, "hi there")
			Expect(reply.Err).ToNot(HaveOccurred())
			Expect(reply.Source).To(Equal(agent.SourceAssistant))
			Expect(reply.Text).To(Equal("hello from the model"))
			Expect(reply.Response).ToNot(BeNil())
			Expect(assistant.History()).To(HaveLen(3))
		})

		It("reports direct tool runs as provider output", func() {
			reply := controller.Submit(ctx, "run status")
			Expect(reply.Source).To(Equal(agent.SourceServer))
			Expect(reply.Text).To(Equal("all good"))
			Expect(reply.Response.Direct).To(BeTrue())
			Expect(llm.Calls()).To(BeZero())
		})

		It("streams the answer in chunks", func() {
			var chunks []string
			for chunk, err := range controller.Stream(ctx, "hi there") {
				Expect(err).ToNot(HaveOccurred())
				chunks = append(chunks, chunk)
			}
			Expect(len(chunks)).To(BeNumerically(">", 1))
			Expect(strings.Join(chunks, "")).To(Equal("hello from the model"))
		})

		It("rejects empty input", func() {
			reply := controller.Submit(ctx, "   ")
			Expect(reply.Err).To(MatchError(agent.ErrEmptyMessage))
		})
	})

	Context("builtins", func() {
		It("clears the transcript", func() {
			controller.Submit(ctx, "hi there")
			Expect(controller.Submit(ctx, "/clear").Text).To(Equal("History cleared."))
			Expect(assistant.History()).To(HaveLen(1))
		})

		It("exports the transcript", func() {
			controller.Submit(ctx, "hi there")
			Expect(controller.Submit(ctx, "/history").Text).To(ContainSubstring("ASSISTANT: hello from the model"))
		})

		It("lists and reloads tools", func() {
			Expect(controller.Submit(ctx, "/tools").Text).To(ContainSubstring("read_file - Read a file"))
			Expect(controller.Submit(ctx, "/refresh").Text).To(Equal("Loaded 3 tools."))
		})
	})
})
