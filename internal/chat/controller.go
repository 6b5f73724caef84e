package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/takashabe/mcp-chat/internal/agent"
	"github.com/takashabe/mcp-chat/internal/router"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// ErrNoRoute is returned for command input the router could not place.
var ErrNoRoute = errors.New("no tool matches the command")

// Reply is what the front end shows for one submitted line.
type Reply struct {
	Source agent.Source
	Text   string
	// Route is set for lines that went through the command router.
	Route *router.Route
	// Response is set for lines the agent answered.
	Response *agent.Response
	Err      error
}

// Controller dispatches submitted lines. In chat mode text goes to the
// agent and "/"-prefixed lines are commands; in command mode every line is
// a command.
type Controller struct {
	conn        *Connection
	agent       *agent.Agent
	commandMode atomic.Bool
}

func NewController(conn *Connection, a *agent.Agent) *Controller {
	return &Controller{conn: conn, agent: a}
}

func (c *Controller) SetCommandMode(on bool) {
	c.commandMode.Store(on)
}

func (c *Controller) CommandMode() bool {
	return c.commandMode.Load()
}

// Submit handles one line of input.
func (c *Controller) Submit(ctx context.Context, text string) Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return failed(agent.ErrEmptyMessage)
	}

	if strings.HasPrefix(text, "/") {
		if reply, ok := c.builtin(ctx, text); ok {
			return reply
		}
		return c.command(ctx, text[1:])
	}
	if c.CommandMode() {
		return c.command(ctx, text)
	}
	return c.ask(ctx, text)
}

// Stream is Submit with the agent's answer delivered in chunks. Commands
// and builtins yield their reply as a single chunk.
func (c *Controller) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || c.CommandMode() {
		return func(yield func(string, error) bool) {
			reply := c.Submit(ctx, trimmed)
			if reply.Err != nil {
				yield("", reply.Err)
				return
			}
			yield(reply.Text, nil)
		}
	}
	return c.agent.StreamMessage(ctx, trimmed)
}

func (c *Controller) ask(ctx context.Context, text string) Reply {
	resp, err := c.agent.ProcessMessage(ctx, text)
	if err != nil {
		return failed(err)
	}
	reply := Reply{Source: agent.SourceAssistant, Text: resp.Content, Response: resp}
	if resp.Direct {
		reply.Source = agent.SourceServer
		if entries := c.agent.Entries(); len(entries) > 0 {
			reply.Source = entries[len(entries)-1].Source
		}
	}
	return reply
}

// command routes text to a tool and invokes it with the rest of the line
// as its argument. The exchange is logged but never reaches the model.
func (c *Controller) command(ctx context.Context, text string) Reply {
	route := c.conn.RouterContext().Route(text)
	if route.Tool == "" {
		return failed(ErrNoRoute)
	}
	c.agent.Record(agent.SourceUser, text)

	result, err := c.conn.Registry().InvokeText(ctx, route.Tool, route.Arguments)
	if err != nil {
		reply := failed(err)
		reply.Route = &route
		c.agent.Record(agent.SourceError, reply.Text)
		return reply
	}
	out := result.Text()
	c.agent.Record(agent.SourceServer, out)
	return Reply{Source: agent.SourceServer, Text: out, Route: &route}
}

func (c *Controller) builtin(ctx context.Context, text string) (Reply, bool) {
	fields := strings.Fields(text)
	switch strings.ToLower(fields[0]) {
	case "/clear":
		c.agent.ClearHistory()
		return info("History cleared."), true
	case "/history":
		return info(c.agent.ExportHistory()), true
	case "/refresh":
		tools, err := c.conn.Refresh(ctx)
		if err != nil {
			return failed(err), true
		}
		return info(fmt.Sprintf("Loaded %d tools.", len(tools))), true
	case "/tools":
		var b strings.Builder
		for i, t := range c.conn.Registry().Tools() {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s - %s", t.Name, t.Description)
		}
		return info(b.String()), true
	case "/mode":
		on := !c.CommandMode()
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "command", "cmd":
				on = true
			case "chat":
				on = false
			default:
				return failed(fmt.Errorf("unknown mode %q", fields[1])), true
			}
		}
		c.SetCommandMode(on)
		if on {
			return info("Command mode."), true
		}
		return info("Chat mode."), true
	}
	return Reply{}, false
}

func info(text string) Reply {
	return Reply{Source: agent.SourceServer, Text: text}
}

func failed(err error) Reply {
	return Reply{Source: agent.SourceError, Text: types.Describe(err), Err: err}
}
