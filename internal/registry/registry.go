// Package registry keeps the set of tools a provider advertises, with
// canonical parameter definitions, and dispatches validated calls to them.
package registry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/takashabe/mcp-chat/internal/schema"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// Logger is the logging surface the registry needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Provider is the tool-provider protocol the registry drives. *mcp.Client
// satisfies it.
type Provider interface {
	ListTools(ctx context.Context) ([]types.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*types.CallToolResult, error)
}

// Tool is a registered tool with its inferred parameters.
type Tool struct {
	Name        string
	Description string
	Parameters  []schema.ParameterSpec
	Category    string
	Examples    []string
	// Caution is set when a non-empty raw schema yielded no parameters.
	Caution bool
}

// Param returns the parameter called name.
func (t Tool) Param(name string) (schema.ParameterSpec, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return schema.ParameterSpec{}, false
}

// Required returns the names of the required parameters in order.
func (t Tool) Required() []string {
	var names []string
	for _, p := range t.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

type snapshot struct {
	tools  []Tool
	byName map[string]int
}

type Registry struct {
	provider Provider
	logger   Logger
	filter   atomic.Pointer[exportFilter]
	current  atomic.Pointer[snapshot]
}

type Option func(*Registry)

func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(provider Provider, opts ...Option) *Registry {
	r := &Registry{provider: provider, logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{byName: map[string]int{}})
	return r
}

// Refresh lists the provider's tools and replaces the registry contents in
// one swap. On error the previous tool set stays in place.
func (r *Registry) Refresh(ctx context.Context) ([]Tool, error) {
	raw, err := r.provider.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh tools: %w", err)
	}

	next := &snapshot{byName: make(map[string]int, len(raw))}
	for _, rt := range raw {
		name := strings.TrimSpace(rt.Name)
		if name == "" {
			r.logger.Printf("Skipping tool without a name")
			continue
		}
		if _, dup := next.byName[name]; dup {
			r.logger.Printf("Skipping duplicate tool %q", name)
			continue
		}

		report := schema.Inspect(rt.InputSchema)
		if report.Caution {
			r.logger.Printf("Warning: %v", &types.SchemaInferenceWarning{
				Tool:   name,
				Reason: "no parameters could be inferred; the tool may expect opaque input",
			})
		}
		next.byName[name] = len(next.tools)
		next.tools = append(next.tools, Tool{
			Name:        name,
			Description: strings.TrimSpace(rt.Description),
			Parameters:  report.Parameters,
			Category:    categoryOf(rt),
			Examples:    examplesOf(rt),
			Caution:     report.Caution,
		})
	}

	r.current.Store(next)
	return r.Tools(), nil
}

// Tools returns the registered tools in provider order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.current.Load().tools...)
}

func (r *Registry) Find(name string) (Tool, bool) {
	snap := r.current.Load()
	i, ok := snap.byName[name]
	if !ok {
		return Tool{}, false
	}
	return snap.tools[i], true
}

// Names returns the registered tool names in provider order.
func (r *Registry) Names() []string {
	snap := r.current.Load()
	names := make([]string, 0, len(snap.tools))
	for _, t := range snap.tools {
		names = append(names, t.Name)
	}
	return names
}

// Search matches query case-insensitively against name, description and
// category. An empty query matches everything.
func (r *Registry) Search(query string) []Tool {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Tool
	for _, t := range r.current.Load().tools {
		if q == "" ||
			strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Category), q) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) ByCategory(category string) []Tool {
	var out []Tool
	for _, t := range r.current.Load().tools {
		if t.Category != "" && strings.EqualFold(t.Category, strings.TrimSpace(category)) {
			out = append(out, t)
		}
	}
	return out
}

// MetaCommands derives the plain-text sub-commands of the umbrella tool
// from its enum-valued parameters and the first word of its examples.
func (r *Registry) MetaCommands(umbrella string) []string {
	tool, ok := r.Find(umbrella)
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	add := func(cmd string) {
		cmd = strings.ToLower(strings.TrimSpace(cmd))
		if cmd == "" || seen[cmd] || strings.EqualFold(cmd, umbrella) {
			return
		}
		seen[cmd] = true
		out = append(out, cmd)
	}
	for _, p := range tool.Parameters {
		for _, v := range p.EnumValues {
			add(v)
		}
	}
	for _, ex := range tool.Examples {
		fields := strings.Fields(ex)
		if len(fields) > 0 && strings.EqualFold(fields[0], umbrella) {
			fields = fields[1:]
		}
		if len(fields) > 0 {
			add(fields[0])
		}
	}
	return out
}

func categoryOf(rt types.Tool) string {
	if c := strings.TrimSpace(rt.Category); c != "" {
		return c
	}
	for _, m := range []map[string]any{rt.Annotations, rt.Meta} {
		if c, ok := m["category"].(string); ok && strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}

func examplesOf(rt types.Tool) []string {
	if len(rt.Examples) > 0 {
		return append([]string(nil), rt.Examples...)
	}
	m, ok := rt.InputSchema.(map[string]any)
	if !ok {
		return nil
	}
	list, _ := m["examples"].([]any)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
