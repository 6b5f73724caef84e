package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/takashabe/mcp-chat/internal/completion"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// cycle stages the transcript writes of one message. Nothing reaches the
// agent until commit, so a failed or cancelled cycle leaves no trace.
type cycle struct {
	base       []ConversationMessage
	staged     []ConversationMessage
	entries    []ChatEntry
	iterations int
	tools      []string
}

func (a *Agent) begin(text string) *cycle {
	a.mu.Lock()
	base := append([]ConversationMessage(nil), a.transcript...)
	a.mu.Unlock()

	c := &cycle{base: base}
	c.add(ConversationMessage{Role: RoleUser, Content: text, Timestamp: a.now()})
	c.entries = append(c.entries, a.newEntry(SourceUser, text))
	return c
}

func (c *cycle) add(m ConversationMessage) {
	c.staged = append(c.staged, m)
}

func (c *cycle) messages() []ConversationMessage {
	out := make([]ConversationMessage, 0, len(c.base)+len(c.staged))
	return append(append(out, c.base...), c.staged...)
}

func (a *Agent) commit(c *cycle, resp *Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = append(a.transcript, c.staged...)
	a.entries = append(a.entries, c.entries...)
	a.last = resp
}

// ProcessMessage runs one user message through the tool-use loop and
// returns the final answer. The transcript is only updated when the whole
// cycle succeeds.
func (a *Agent) ProcessMessage(ctx context.Context, text string) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()

	if resp, ok := a.runDirect(ctx, text); ok {
		return resp, nil
	}

	c := a.begin(text)
	for c.iterations < a.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.iterations++

		completed, err := a.completer.Complete(ctx, a.request(c, false))
		if err != nil {
			return nil, fmt.Errorf("completion failed: %w", err)
		}
		intents := a.intentsFrom(completed)
		if len(intents) == 0 {
			resp := a.finish(c, completed.Content)
			a.commit(c, resp)
			return resp, nil
		}
		a.runTools(ctx, c, completed.Content, intents)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := a.capped(c)
	a.commit(c, resp)
	return resp, nil
}

// runTools records the assistant turn that requested intents, executes
// them in order and stages one tool message per result.
func (a *Agent) runTools(ctx context.Context, c *cycle, content string, intents []ToolCallIntent) {
	visible, _ := splitThinking(content)
	c.add(ConversationMessage{Role: RoleAssistant, Content: visible, ToolCalls: intents, Timestamp: a.now()})

	a.setState(StateAwaitingToolResults)
	defer a.setState(StateProcessing)

	for _, intent := range intents {
		result, err := a.execute(ctx, intent)
		if err != nil {
			a.logger.Printf("Tool %s failed: %v", intent.ToolName, err)
			result = types.Describe(err)
			c.entries = append(c.entries, a.newEntry(SourceError, fmt.Sprintf("%s: %s", intent.ToolName, result)))
		}
		c.tools = append(c.tools, intent.ToolName)
		c.add(ConversationMessage{Role: RoleTool, Content: result, ToolCallID: intent.ID, Timestamp: a.now()})
	}
}

func (a *Agent) execute(ctx context.Context, intent ToolCallIntent) (string, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(intent.ArgumentsJSON); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", intent.ToolName, err)
		}
	}
	result, err := a.tools.Invoke(ctx, intent.ToolName, args)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

func (a *Agent) finish(c *cycle, content string) *Response {
	visible, thinking := splitThinking(content)
	c.add(ConversationMessage{Role: RoleAssistant, Content: visible, Timestamp: a.now()})
	c.entries = append(c.entries, a.newEntry(SourceAssistant, visible))
	return &Response{
		Content:       visible,
		ToolsExecuted: c.tools,
		Thinking:      thinking,
		Confidence:    Confidence(c.iterations, len(c.tools)),
		Iterations:    c.iterations,
	}
}

func (a *Agent) capped(c *cycle) *Response {
	note := fmt.Sprintf("Stopped after %d iterations without a final answer.", c.iterations)
	a.logger.Printf("Agent hit the iteration cap (%d)", a.maxIterations)
	return a.finish(c, note)
}

func (a *Agent) request(c *cycle, stream bool) completion.Request {
	msgs := c.messages()
	req := completion.Request{
		Model:       a.model,
		Messages:    make([]completion.Message, 0, len(msgs)),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		Stream:      stream,
	}
	for _, m := range msgs {
		wire := completion.Message{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, completion.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: completion.FunctionCall{Name: tc.ToolName, Arguments: tc.ArgumentsJSON},
			})
		}
		req.Messages = append(req.Messages, wire)
	}
	if tools := a.tools.ExportForRemoteAPI(); len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	return req
}
