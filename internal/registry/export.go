package registry

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"github.com/takashabe/mcp-chat/internal/schema"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// ExportForRemoteAPI converts the registered tools into function
// descriptors for the chat-completion API. When an export filter is set,
// only tools it accepts are exported.
func (r *Registry) ExportForRemoteAPI() []types.FunctionDescriptor {
	filter := r.filter.Load()
	var out []types.FunctionDescriptor
	for _, t := range r.current.Load().tools {
		if filter != nil && !filter.accept(t, r.logger) {
			continue
		}
		out = append(out, types.FunctionDescriptor{
			Type: "function",
			Function: types.FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  ExportSchema(t),
			},
		})
	}
	return out
}

// ExportSchema rebuilds a JSON Schema object from the tool's parameters.
// Tools whose schema could not be read get a single free-form "input"
// property.
func ExportSchema(t Tool) *jsonschema.Schema {
	root := &jsonschema.Schema{
		Type:       schema.TypeObject,
		Properties: map[string]*jsonschema.Schema{},
	}
	if len(t.Parameters) == 0 && t.Caution {
		root.Properties["input"] = &jsonschema.Schema{
			Type:        schema.TypeString,
			Description: "Free-form input passed to the tool as is",
		}
		return root
	}
	for _, p := range t.Parameters {
		root.Properties[p.Name] = propertySchema(p)
		if p.Required {
			root.Required = append(root.Required, p.Name)
		}
	}
	return root
}

func propertySchema(p schema.ParameterSpec) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: p.Type, Description: p.Description}
	if p.Default != nil {
		if s.Description != "" {
			s.Description += " "
		}
		s.Description += fmt.Sprintf("(default: %s)", *p.Default)
	}
	for _, v := range p.EnumValues {
		s.Enum = append(s.Enum, v)
	}
	if p.Type == schema.TypeArray {
		item := p.ItemType
		if item == "" {
			item = schema.TypeString
		}
		s.Items = &jsonschema.Schema{Type: item}
	}
	return s
}

type exportFilter struct {
	expr    string
	program cel.Program
}

// SetExportFilter restricts ExportForRemoteAPI to tools for which the CEL
// expression evaluates to true. The expression sees the string variables
// name, description and category, e.g. `category == "files"` or
// `!name.startsWith("debug_")`. An empty expression clears the filter.
func (r *Registry) SetExportFilter(expr string) error {
	if expr == "" {
		r.filter.Store(nil)
		return nil
	}
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid export filter %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("export filter %q must evaluate to a bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to build export filter %q: %w", expr, err)
	}
	r.filter.Store(&exportFilter{expr: expr, program: program})
	return nil
}

// accept evaluates the filter for t. Evaluation errors keep the tool.
func (f *exportFilter) accept(t Tool, logger Logger) bool {
	out, _, err := f.program.Eval(map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"category":    t.Category,
	})
	if err != nil {
		logger.Printf("Export filter %q failed for tool %q: %v", f.expr, t.Name, err)
		return true
	}
	keep, ok := out.Value().(bool)
	return !ok || keep
}
