package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/takashabe/mcp-chat/internal/completion"
)

var (
	taggedCall = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// intentsFrom returns the tool calls of a completion. Structured calls
// win; otherwise the text is scanned for <tool_call> blocks and fenced
// JSON objects that name a known tool.
func (a *Agent) intentsFrom(resp *completion.Response) []ToolCallIntent {
	var intents []ToolCallIntent
	for _, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + newID()
		}
		intents = append(intents, ToolCallIntent{ID: id, ToolName: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments})
	}
	if len(intents) > 0 {
		return intents
	}

	for _, re := range []*regexp.Regexp{taggedCall, fencedJSON} {
		for _, m := range re.FindAllStringSubmatch(resp.Content, -1) {
			if intent, ok := a.textIntent(m[1]); ok {
				intents = append(intents, intent)
			}
		}
		if len(intents) > 0 {
			return intents
		}
	}
	return nil
}

// textIntent decodes {"name": ..., "arguments": {...}} and its common
// spellings. Objects that do not name a registered tool are ignored.
func (a *Agent) textIntent(raw string) (ToolCallIntent, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return ToolCallIntent{}, false
	}

	var name string
	for _, key := range []string{"name", "tool", "tool_name", "function"} {
		if v, ok := obj[key]; ok && json.Unmarshal(v, &name) == nil && name != "" {
			break
		}
		name = ""
	}
	name = strings.TrimSpace(name)
	if _, ok := a.tools.Find(name); !ok {
		return ToolCallIntent{}, false
	}

	args := "{}"
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		// Arguments may arrive as an object or as an encoded JSON string.
		var encoded string
		if json.Unmarshal(v, &encoded) == nil {
			args = encoded
		} else {
			args = string(v)
		}
		break
	}
	return ToolCallIntent{ID: "call_" + newID(), ToolName: name, ArgumentsJSON: args}, true
}
