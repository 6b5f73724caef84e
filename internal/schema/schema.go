// Package schema normalises the tool input schemas providers advertise into
// canonical parameter definitions.
//
// Providers ship JSON-Schema objects, flattened parameter maps, parameter
// lists, nested option blocks and sometimes nothing but prose. Inspect runs a
// fixed fallback chain over those shapes and stops at the first rule that
// yields a parameter. It never guesses past the last rule: a schema nobody
// can read produces no parameters and a Caution flag.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parameter types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// ParameterSpec is the canonical description of one tool argument.
type ParameterSpec struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     *string
	EnumValues  []string
	// ItemType is the element type for arrays; used when exporting.
	ItemType string
}

// Rule identifies which step of the fallback chain produced the result.
type Rule int

const (
	RuleNone Rule = iota
	RuleProperties
	RuleDirect
	RuleNested
	RuleDescription
)

func (r Rule) String() string {
	switch r {
	case RuleProperties:
		return "properties"
	case RuleDirect:
		return "direct"
	case RuleNested:
		return "nested"
	case RuleDescription:
		return "description"
	default:
		return "none"
	}
}

// Report is the outcome of Inspect.
type Report struct {
	Parameters []ParameterSpec
	Rule       Rule
	// Empty is true when the raw schema was absent or empty.
	Empty bool
	// Caution is true when a non-empty schema yielded no parameters and does
	// not declare an empty property set; the tool may still expect opaque
	// input.
	Caution bool
}

// Infer returns the parameters for raw. See Inspect.
func Infer(raw any) []ParameterSpec {
	return Inspect(raw).Parameters
}

// Inspect runs the fallback chain over raw, which is a decoded JSON value
// (nil, map, list or string) or a json.RawMessage.
func Inspect(raw any) Report {
	raw = decodeRaw(raw)
	if isEmpty(raw) {
		return Report{Empty: true}
	}

	chain := []struct {
		rule Rule
		fn   func(any) []ParameterSpec
	}{
		{RuleProperties, fromProperties},
		{RuleDirect, fromDirect},
		{RuleNested, fromNested},
		{RuleDescription, fromDescription},
	}
	for _, step := range chain {
		if params := step.fn(raw); len(params) > 0 {
			return Report{Parameters: params, Rule: step.rule}
		}
	}
	if declaresNoArguments(raw) {
		return Report{}
	}
	return Report{Caution: true}
}

// declaresNoArguments reports an object schema that explicitly lists no
// properties, the usual shape for argument-less tools.
func declaresNoArguments(raw any) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	if props, ok := m["properties"].(map[string]any); ok {
		return len(props) == 0
	}
	if NormalizeType(m["type"]) != TypeObject {
		return false
	}
	for k := range m {
		switch k {
		case "type", "$schema", "title", "additionalProperties":
		default:
			return false
		}
	}
	return true
}

func decodeRaw(raw any) any {
	switch v := raw.(type) {
	case json.RawMessage:
		return decodeBytes(v)
	case []byte:
		return decodeBytes(v)
	}
	return raw
}

func decodeBytes(b []byte) any {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

// wrapperKeys hold a nested schema in providers that wrap it once more.
var wrapperKeys = []string{"inputSchema", "input_schema", "parameters", "schema"}

// fromProperties handles JSON-Schema objects with a properties mapping,
// at the root or under a wrapper key.
func fromProperties(raw any) []ParameterSpec {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	if params := propertiesOf(m); len(params) > 0 {
		return params
	}
	for _, key := range wrapperKeys {
		if inner, ok := m[key].(map[string]any); ok {
			if params := propertiesOf(inner); len(params) > 0 {
				return params
			}
		}
	}
	return nil
}

func propertiesOf(m map[string]any) []ParameterSpec {
	props, ok := m["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return nil
	}
	required := stringSet(m["required"])
	params := make([]ParameterSpec, 0, len(props))
	for _, name := range orderedKeys(props, m["required"]) {
		p := paramFrom(name, props[name])
		p.Required = required[name]
		params = append(params, p)
	}
	return params
}

// reservedKeys are schema keywords, never parameter names in the direct
// pattern.
var reservedKeys = map[string]bool{
	"type": true, "required": true, "properties": true, "items": true,
	"options": true, "description": true, "title": true, "$schema": true,
	"$id": true, "$ref": true, "$defs": true, "definitions": true,
	"additionalProperties": true, "examples": true, "default": true,
	"enum": true, "inputSchema": true, "input_schema": true,
}

// fromDirect handles parameters listed without a properties wrapper: maps
// of parameter-shaped objects at the root or under parameters, params or
// arguments, or lists of {name, type, ...}.
func fromDirect(raw any) []ParameterSpec {
	switch v := raw.(type) {
	case []any:
		return fromList(v)
	case map[string]any:
		for _, key := range []string{"parameters", "params", "arguments"} {
			var params []ParameterSpec
			switch inner := v[key].(type) {
			case []any:
				params = fromList(inner)
			case map[string]any:
				params = fromParameterMap(inner)
			}
			if len(params) > 0 {
				return params
			}
		}
		return fromParameterMap(v)
	}
	return nil
}

// fromParameterMap reads {name: {type, description, ...}} entries and skips
// schema keywords and values that do not look like parameters.
func fromParameterMap(m map[string]any) []ParameterSpec {
	required := stringSet(m["required"])
	var params []ParameterSpec
	for _, name := range orderedKeys(m, m["required"]) {
		if reservedKeys[name] {
			continue
		}
		obj, ok := m[name].(map[string]any)
		if !ok || !parameterShaped(obj) {
			continue
		}
		p := paramFrom(name, obj)
		p.Required = required[name] || truthy(obj["required"])
		params = append(params, p)
	}
	return params
}

// fromNested scans options blocks and array item schemas.
func fromNested(raw any) []ParameterSpec {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	switch opts := m["options"].(type) {
	case map[string]any:
		if params := propertiesOf(opts); len(params) > 0 {
			return params
		}
		if params := fromDirect(opts); len(params) > 0 {
			return params
		}
	case []any:
		if params := fromList(opts); len(params) > 0 {
			return params
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		if params := propertiesOf(items); len(params) > 0 {
			return params
		}
	}
	for _, key := range wrapperKeys {
		if inner, ok := m[key].(map[string]any); ok {
			if params := fromNested(inner); len(params) > 0 {
				return params
			}
		}
	}
	return nil
}

func fromList(list []any) []ParameterSpec {
	var params []ParameterSpec
	seen := map[string]bool{}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p := paramFrom(name, obj)
		p.Required = truthy(obj["required"])
		params = append(params, p)
	}
	return params
}

func parameterShaped(obj map[string]any) bool {
	if t, ok := obj["type"]; ok {
		switch t.(type) {
		case string, []any:
			return true
		}
	}
	_, hasDesc := obj["description"].(string)
	_, hasEnum := obj["enum"].([]any)
	return hasDesc || hasEnum
}

// paramFrom builds a ParameterSpec from one property definition. Definitions that
// are bare type names ("count": "int") are accepted.
func paramFrom(name string, def any) ParameterSpec {
	p := ParameterSpec{Name: name, Type: TypeString}
	switch d := def.(type) {
	case string:
		p.Type = NormalizeType(d)
	case map[string]any:
		p.Type = NormalizeType(d["type"])
		if desc, ok := d["description"].(string); ok {
			p.Description = strings.TrimSpace(desc)
		}
		if enum, ok := d["enum"].([]any); ok {
			for _, e := range enum {
				p.EnumValues = append(p.EnumValues, scalarString(e))
			}
		}
		if dv, ok := d["default"]; ok && dv != nil {
			s := scalarString(dv)
			p.Default = &s
		}
		if p.Type == TypeArray {
			if items, ok := d["items"].(map[string]any); ok {
				p.ItemType = NormalizeType(items["type"])
			}
		}
	}
	if p.Type == TypeArray && p.ItemType == "" {
		p.ItemType = TypeString
	}
	return p
}

var typeAliases = map[string]string{
	"string": TypeString, "str": TypeString, "text": TypeString, "path": TypeString,
	"integer": TypeInteger, "int": TypeInteger, "int32": TypeInteger, "int64": TypeInteger,
	"number": TypeNumber, "float": TypeNumber, "double": TypeNumber, "decimal": TypeNumber,
	"boolean": TypeBoolean, "bool": TypeBoolean,
	"array": TypeArray, "list": TypeArray,
	"object": TypeObject, "dict": TypeObject, "map": TypeObject,
}

// NormalizeType maps a raw type declaration onto one of the six canonical
// types. Type unions use their first non-null member; anything unknown is a
// string.
func NormalizeType(t any) string {
	switch v := t.(type) {
	case string:
		if canon, ok := typeAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
			return canon
		}
	case []any:
		for _, member := range v {
			if s, ok := member.(string); ok && strings.ToLower(s) != "null" {
				return NormalizeType(s)
			}
		}
	}
	return TypeString
}

// orderedKeys puts required names first, in their declared order, then
// the rest alphabetically.
func orderedKeys(m map[string]any, required any) []string {
	keys := make([]string, 0, len(m))
	seen := map[string]bool{}
	if list, ok := required.([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok && !seen[s] {
				if _, present := m[s]; present {
					keys = append(keys, s)
					seen[s] = true
				}
			}
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func stringSet(v any) map[string]bool {
	set := map[string]bool{}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	case []string:
		for _, s := range list {
			set[s] = true
		}
	}
	return set
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true") || strings.EqualFold(b, "yes")
	}
	return false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64, bool, json.Number:
		return fmt.Sprint(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
