package agent

import (
	"context"
	"strings"

	"github.com/takashabe/mcp-chat/internal/registry"
	"github.com/takashabe/mcp-chat/pkg/types"
)

var directPrefixes = []string{"use", "run", "execute", "call"}

// directTool returns the tool text names, if it names nothing but a tool:
// "read_file", "Run list_dir", "call the status tool.". Spaces and dashes
// may stand in for underscores.
func (a *Agent) directTool(text string) (registry.Tool, bool) {
	words := strings.Fields(strings.ToLower(strings.TrimRight(strings.TrimSpace(text), ".!?")))
	if len(words) > 0 && isDirectPrefix(words[0]) {
		words = words[1:]
	}
	if len(words) > 0 && words[0] == "the" {
		words = words[1:]
	}
	if len(words) > 1 && words[len(words)-1] == "tool" {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return registry.Tool{}, false
	}

	candidate := normalizeName(strings.Join(words, "_"))
	for _, t := range a.tools.Tools() {
		if normalizeName(t.Name) == candidate {
			return t, true
		}
	}
	return registry.Tool{}, false
}

func isDirectPrefix(w string) bool {
	for _, p := range directPrefixes {
		if w == p {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(s))
}

// runDirect executes a tool named by the message without asking the model.
// Tools that need arguments are left to the model, which can supply them.
// The outcome goes to the chat log only.
func (a *Agent) runDirect(ctx context.Context, text string) (*Response, bool) {
	tool, ok := a.directTool(text)
	if !ok || len(tool.Required()) > 0 {
		return nil, false
	}

	entries := []ChatEntry{a.newEntry(SourceUser, text)}
	resp := &Response{ToolsExecuted: []string{tool.Name}, Confidence: Confidence(1, 1), Direct: true}

	result, err := a.tools.Invoke(ctx, tool.Name, map[string]any{})
	if err != nil {
		resp.Content = types.Describe(err)
		entries = append(entries, a.newEntry(SourceError, resp.Content))
	} else {
		resp.Content = result.Text()
		entries = append(entries, a.newEntry(SourceServer, resp.Content))
	}

	a.mu.Lock()
	a.entries = append(a.entries, entries...)
	a.last = resp
	a.mu.Unlock()
	return resp, true
}
