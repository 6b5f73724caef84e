package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/takashabe/mcp-chat/internal/schema"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// Invoke validates args against the tool's parameters and calls it.
// A result flagged isError is returned together with an
// *types.ExecutionFailedError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*types.CallToolResult, error) {
	tool, ok := r.Find(name)
	if !ok {
		return nil, &types.ToolNotFoundError{Name: name}
	}
	if err := Validate(tool, args); err != nil {
		return nil, err
	}

	result, err := r.provider.CallTool(ctx, tool.Name, args)
	if err != nil {
		return nil, &types.ExecutionFailedError{Reason: err.Error(), Err: err}
	}
	if result.IsError {
		reason := strings.TrimSpace(result.Text())
		if reason == "" {
			reason = "tool reported an error"
		}
		return result, &types.ExecutionFailedError{Reason: reason}
	}
	return result, nil
}

// InvokeText calls a tool with a single argument string, as typed after the
// tool name on the command line. See ArgumentsFromText.
func (r *Registry) InvokeText(ctx context.Context, name, text string) (*types.CallToolResult, error) {
	tool, ok := r.Find(name)
	if !ok {
		return nil, &types.ToolNotFoundError{Name: name}
	}
	return r.Invoke(ctx, name, ArgumentsFromText(tool, text))
}

// ArgumentsFromText maps free argument text onto a tool's parameters. A
// JSON object is taken as the full argument set. Anything else fills the
// first required parameter, or the first parameter, converted to its
// declared type when it parses as one.
func ArgumentsFromText(tool Tool, text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(text, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(text), &args); err == nil {
			return args
		}
	}

	if len(tool.Parameters) == 0 {
		if tool.Caution {
			return map[string]any{"input": text}
		}
		return map[string]any{}
	}
	target := tool.Parameters[0]
	for _, p := range tool.Parameters {
		if p.Required {
			target = p
			break
		}
	}
	return map[string]any{target.Name: coerce(text, target)}
}

func coerce(text string, p schema.ParameterSpec) any {
	switch p.Type {
	case schema.TypeInteger:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	case schema.TypeNumber:
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	case schema.TypeBoolean:
		if b, err := strconv.ParseBool(text); err == nil {
			return b
		}
	case schema.TypeArray:
		var list []any
		if err := json.Unmarshal([]byte(text), &list); err == nil {
			return list
		}
		for _, f := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' }) {
			list = append(list, f)
		}
		return list
	case schema.TypeObject:
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			return obj
		}
	}
	return text
}

// Validate checks the types and enum membership of the present arguments,
// then that every required parameter is present. Arguments the tool does
// not declare are passed through unchecked.
func Validate(tool Tool, args map[string]any) error {
	for _, p := range tool.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		if !matchesType(v, p.Type) {
			return &types.InvalidParameterTypeError{Name: p.Name, Expected: p.Type}
		}
		if len(p.EnumValues) > 0 && !slices.Contains(p.EnumValues, enumKey(v)) {
			return &types.InvalidEnumValueError{Name: p.Name, Allowed: p.EnumValues}
		}
	}
	for _, p := range tool.Parameters {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return &types.MissingRequiredParameterError{Name: p.Name}
		}
	}
	return nil
}

func matchesType(v any, typ string) bool {
	switch typ {
	case schema.TypeString:
		_, ok := v.(string)
		return ok
	case schema.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case schema.TypeInteger:
		switch n := v.(type) {
		case json.Number:
			_, err := n.Int64()
			return err == nil
		case float32:
			return float64(n) == math.Trunc(float64(n))
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		}
		switch reflect.ValueOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
		return false
	case schema.TypeNumber:
		if _, ok := v.(json.Number); ok {
			return true
		}
		switch reflect.ValueOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case schema.TypeArray:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case schema.TypeObject:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Map || k == reflect.Struct
	}
	return true
}

func enumKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
