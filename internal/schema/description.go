package schema

import (
	"regexp"
	"strings"
)

var (
	// "parameter: path", "param - path", "argument: path"
	phrasePattern = regexp.MustCompile(`(?i)\b(?:parameter|param|argument|arg)s?\s*[:=\-]\s*['"` + "`" + `]?([A-Za-z_][A-Za-z0-9_\-]*)`)
	// 'path', "path", `path`
	quotedPattern = regexp.MustCompile(`['"` + "`" + `]([A-Za-z_][A-Za-z0-9_\-]*)['"` + "`" + `]`)
)

// fromDescription extracts a single parameter name from prose, either a
// raw string schema or the schema's description.
func fromDescription(raw any) []ParameterSpec {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case map[string]any:
		text, _ = v["description"].(string)
	}
	name := ParameterNameFromText(text)
	if name == "" {
		return nil
	}
	return []ParameterSpec{{Name: name, Type: TypeString}}
}

// ParameterNameFromText returns the parameter named by a "parameter: <name>"
// phrase, or failing that the first quoted identifier, or "".
func ParameterNameFromText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if m := phrasePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
