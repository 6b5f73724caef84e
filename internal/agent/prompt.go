package agent

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/takashabe/mcp-chat/internal/registry"
)

// DefaultSystemPrompt lists the available tools and asks the model to keep
// its reasoning inside thinking tags.
const DefaultSystemPrompt = `You are a helpful assistant working through a set of tools.
{{- with .Tools }}
Available tools:
{{- range . }}
- {{ .Name }}{{ with .Description }}: {{ . | trunc 160 }}{{ end }}
{{- end }}
{{- else }}
No tools are available right now.
{{- end }}
Call a tool when it helps answer the user. Put private reasoning inside <thinking></thinking> tags.
Today is {{ .Now | date "2006-01-02" }}.`

// PromptData is the data the system prompt template is rendered with.
type PromptData struct {
	Tools []registry.Tool
	Now   time.Time
}

func parsePrompt(tmpl string) (*template.Template, error) {
	t, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("invalid system prompt template: %w", err)
	}
	return t, nil
}

func (a *Agent) renderPrompt() (string, error) {
	var buf bytes.Buffer
	data := PromptData{Tools: a.tools.Tools(), Now: a.now()}
	if err := a.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return buf.String(), nil
}
