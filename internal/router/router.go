// Package router decides which tool a line typed in command mode goes to.
package router

import (
	"strings"
)

// Rule names the precedence rule that produced a Route.
type Rule int

const (
	RuleNone Rule = iota
	// RuleUseProvider: the whole input is "use <provider>".
	RuleUseProvider
	// RuleUmbrella: the first token is the umbrella tool itself.
	RuleUmbrella
	// RuleMetaCommand: the first token is a meta-command.
	RuleMetaCommand
	// RuleMetaCommandLoose: the first token is a meta-command once slashes
	// and trailing punctuation are dropped, and more text follows.
	RuleMetaCommandLoose
	// RuleTool: the first token names a registered tool.
	RuleTool
	// RuleFreeForm: unrecognised multi-word input goes to the umbrella tool.
	RuleFreeForm
	// RuleLiteral: a single unrecognised token is tried as a tool name.
	RuleLiteral
)

var ruleNames = map[Rule]string{
	RuleNone:             "none",
	RuleUseProvider:      "use-provider",
	RuleUmbrella:         "umbrella",
	RuleMetaCommand:      "meta-command",
	RuleMetaCommandLoose: "meta-command-loose",
	RuleTool:             "tool",
	RuleFreeForm:         "free-form",
	RuleLiteral:          "literal",
}

func (r Rule) String() string {
	return ruleNames[r]
}

// Context is what the router knows about the connected provider.
type Context struct {
	// Provider is the configured provider name, used for "use <provider>".
	Provider string
	// Umbrella is the provider's umbrella tool. Empty disables the rules
	// that target it.
	Umbrella     string
	MetaCommands []string
	Tools        []string
}

type Route struct {
	Tool      string
	Arguments string
	Rule      Rule
}

// Route maps input onto a tool and its argument text. The first matching
// rule wins:
//
//  1. "use <provider>" goes to the umbrella tool with the phrase as argument.
//  2. "<umbrella> args" goes to the umbrella tool with args.
//  3. "<meta-command> rest" goes to the umbrella tool as "<meta-command> rest".
//  4. "/<meta-command>: rest" goes to the umbrella tool with the full input.
//  5. "<tool> rest" goes to the tool with rest.
//  6. Other multi-word input goes to the umbrella tool unchanged.
//  7. A single unknown token is tried as a tool name with no arguments.
//
// Without an umbrella tool rules 1-4 and 6 never match and input falls
// through to "<first token>" with the remaining text.
func (c Context) Route(input string) Route {
	input = strings.TrimSpace(input)
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Route{}
	}
	first := fields[0]
	rest := strings.TrimSpace(input[len(first):])
	umbrella := c.Umbrella != ""

	if umbrella && c.Provider != "" && strings.EqualFold(strings.Join(fields, " "), "use "+c.Provider) {
		return Route{Tool: c.Umbrella, Arguments: input, Rule: RuleUseProvider}
	}
	if umbrella && strings.EqualFold(first, c.Umbrella) {
		return Route{Tool: c.Umbrella, Arguments: rest, Rule: RuleUmbrella}
	}
	if umbrella && c.isMetaCommand(first) {
		args := strings.ToLower(first)
		if rest != "" {
			args += " " + rest
		}
		return Route{Tool: c.Umbrella, Arguments: args, Rule: RuleMetaCommand}
	}
	if umbrella && rest != "" && c.isMetaCommand(loose(first)) {
		return Route{Tool: c.Umbrella, Arguments: input, Rule: RuleMetaCommandLoose}
	}
	for _, name := range c.Tools {
		if name == first {
			return Route{Tool: name, Arguments: rest, Rule: RuleTool}
		}
	}
	if umbrella && len(fields) > 1 {
		return Route{Tool: c.Umbrella, Arguments: input, Rule: RuleFreeForm}
	}
	return Route{Tool: first, Arguments: rest, Rule: RuleLiteral}
}

func (c Context) isMetaCommand(token string) bool {
	if token == "" {
		return false
	}
	for _, m := range c.MetaCommands {
		if strings.EqualFold(m, token) {
			return true
		}
	}
	return false
}

func loose(token string) string {
	return strings.TrimRight(strings.TrimLeft(token, "/"), ":,;.")
}
