// Package completion is a client for OpenAI-compatible chat-completion
// APIs.
package completion

import (
	"fmt"

	"github.com/takashabe/mcp-chat/pkg/types"
)

// Message is one transcript entry in the wire shape the API expects.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Request struct {
	Model       string                     `json:"model"`
	Messages    []Message                  `json:"messages"`
	Temperature *float64                   `json:"temperature,omitempty"`
	MaxTokens   int                        `json:"max_tokens,omitempty"`
	Stream      bool                       `json:"stream,omitempty"`
	Tools       []types.FunctionDescriptor `json:"tools,omitempty"`
	ToolChoice  any                        `json:"tool_choice,omitempty"`
}

// Response is the first choice of a completion.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Delta is one streamed increment. Tool call fragments carry the index of
// the call they extend.
type Delta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Body)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage    `json:"usage,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type chunkResponse struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Accumulator assembles streamed deltas into a Response.
type Accumulator struct {
	content string
	calls   []ToolCall
	finish  string
}

func (a *Accumulator) Add(d Delta) {
	a.content += d.Content
	if d.FinishReason != "" {
		a.finish = d.FinishReason
	}
	for _, tc := range d.ToolCalls {
		if tc.Index < 0 {
			continue
		}
		for len(a.calls) <= tc.Index {
			a.calls = append(a.calls, ToolCall{Type: "function"})
		}
		call := &a.calls[tc.Index]
		if tc.ID != "" {
			call.ID = tc.ID
		}
		call.Function.Name += tc.Name
		call.Function.Arguments += tc.Arguments
	}
}

func (a *Accumulator) Response() *Response {
	var calls []ToolCall
	for _, c := range a.calls {
		if c.Function.Name != "" {
			calls = append(calls, c)
		}
	}
	return &Response{Content: a.content, ToolCalls: calls, FinishReason: a.finish}
}
