// Package agent runs the conversational tool-use loop between the user,
// the chat-completion API and the tool registry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/takashabe/mcp-chat/internal/completion"
	"github.com/takashabe/mcp-chat/internal/registry"
	"github.com/takashabe/mcp-chat/pkg/types"
)

var (
	// ErrBusy is returned when a message arrives while another one is
	// still being processed.
	ErrBusy = errors.New("agent is busy with another message")
	// ErrStreamConsumed is yielded when a StreamMessage sequence is ranged
	// over a second time.
	ErrStreamConsumed = errors.New("stream already consumed")
	ErrEmptyMessage   = errors.New("empty message")
)

type Logger interface {
	Printf(format string, v ...any)
}

// Completer is the chat-completion API. *completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Response, error)
	Stream(ctx context.Context, req completion.Request) iter.Seq2[completion.Delta, error]
}

// Tools is the registry surface the loop uses. *registry.Registry
// satisfies it.
type Tools interface {
	Tools() []registry.Tool
	Find(name string) (registry.Tool, bool)
	Invoke(ctx context.Context, name string, args map[string]any) (*types.CallToolResult, error)
	ExportForRemoteAPI() []types.FunctionDescriptor
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ConversationMessage struct {
	Role      Role
	Content   string
	ToolCalls []ToolCallIntent
	// ToolCallID is set on tool messages only.
	ToolCallID string
	Timestamp  time.Time
}

// ToolCallIntent is a tool invocation requested by the model.
type ToolCallIntent struct {
	ID            string
	ToolName      string
	ArgumentsJSON string
}

type Source string

const (
	SourceUser      Source = "user"
	SourceAssistant Source = "assistant"
	SourceServer    Source = "server"
	SourceError     Source = "error"
)

// ChatEntry is one line of the visible chat log. Direct tool invocations
// are only recorded here, never in the transcript sent to the model.
type ChatEntry struct {
	ID        string
	Source    Source
	Text      string
	Timestamp time.Time
}

type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateAwaitingToolResults
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateAwaitingToolResults:
		return "awaiting-tool-results"
	default:
		return "idle"
	}
}

type Response struct {
	Content       string
	ToolsExecuted []string
	// Thinking is the first <thinking> segment of the final answer, nil
	// when there was none.
	Thinking   *string
	Confidence float64
	Iterations int
	// Direct is set when the message named a tool and the tool was run
	// without consulting the model.
	Direct bool
}

type Agent struct {
	completer Completer
	tools     Tools
	logger    Logger
	now       func() time.Time

	model         string
	temperature   *float64
	maxTokens     int
	maxIterations int
	prompt        *template.Template
	promptErr     error

	state atomic.Int32

	mu         sync.Mutex
	transcript []ConversationMessage
	entries    []ChatEntry
	last       *Response
}

type Option func(*Agent)

func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithSystemPrompt sets the system prompt template. It is rendered with
// text/template and the sprig function map; see PromptData.
func WithSystemPrompt(tmpl string) Option {
	return func(a *Agent) { a.prompt, a.promptErr = parsePrompt(tmpl) }
}

func WithLogger(l Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent whose transcript holds the rendered system prompt.
func New(completer Completer, tools Tools, opts ...Option) (*Agent, error) {
	a := &Agent{
		completer:     completer,
		tools:         tools,
		logger:        log.Default(),
		now:           time.Now,
		maxIterations: 10,
	}
	a.prompt, a.promptErr = parsePrompt(DefaultSystemPrompt)
	for _, opt := range opts {
		opt(a)
	}
	if a.promptErr != nil {
		return nil, a.promptErr
	}

	system, err := a.renderPrompt()
	if err != nil {
		return nil, err
	}
	a.transcript = []ConversationMessage{{Role: RoleSystem, Content: system, Timestamp: a.now()}}
	return a, nil
}

func (a *Agent) State() State {
	return State(a.state.Load())
}

// History returns a copy of the transcript.
func (a *Agent) History() []ConversationMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ConversationMessage(nil), a.transcript...)
}

// Entries returns a copy of the visible chat log.
func (a *Agent) Entries() []ChatEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ChatEntry(nil), a.entries...)
}

// LastResponse returns the response of the last committed cycle.
func (a *Agent) LastResponse() *Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// ClearHistory truncates the transcript to its leading system message.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = a.transcript[:1:1]
}

// ExportHistory renders the transcript as "ROLE: content" lines.
func (a *Agent) ExportHistory() string {
	var b strings.Builder
	for i, m := range a.History() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(string(m.Role)), m.Content)
	}
	return b.String()
}

// Confidence scores a cycle: 1 for a single completion without tools,
// minus 0.05 per extra iteration and 0.03 per executed tool, never below 0.
func Confidence(iterations, toolsExecuted int) float64 {
	if iterations < 1 {
		iterations = 1
	}
	c := 1 - 0.05*float64(iterations-1) - 0.03*float64(toolsExecuted)
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// acquire moves the agent out of Idle. Only one cycle runs at a time.
func (a *Agent) acquire() error {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateProcessing)) {
		return ErrBusy
	}
	return nil
}

func (a *Agent) release() {
	a.state.Store(int32(StateIdle))
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

func (a *Agent) newEntry(source Source, text string) ChatEntry {
	return ChatEntry{ID: newID(), Source: source, Text: text, Timestamp: a.now()}
}

// Record appends an entry to the chat log without touching the transcript.
// Command-mode tool calls that bypass the model are logged this way.
func (a *Agent) Record(source Source, text string) ChatEntry {
	e := a.newEntry(source, text)
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return e
}
