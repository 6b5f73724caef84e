// Package config loads tool-provider and chat settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when the config file does not exist.
	ErrNotFound = errors.New("config file not found")
	// ErrInvalidServers is returned when the mcpServers section is missing
	// or malformed.
	ErrInvalidServers = errors.New("invalid mcpServers section")
	ErrUnknownServer  = errors.New("unknown server")
)

// Server describes how to launch one tool provider.
type Server struct {
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	// Umbrella names the provider's umbrella tool, if it has one.
	Umbrella       string `json:"umbrella,omitempty" yaml:"umbrella,omitempty" toml:"umbrella,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds,omitempty"`
}

// Timeout bounds each request to the provider.
func (s Server) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type Chat struct {
	BaseURL       string  `json:"baseURL,omitempty" yaml:"baseURL,omitempty" toml:"baseURL,omitempty"`
	APIKey        string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	Model         string  `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	Temperature   float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	MaxTokens     int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" toml:"maxTokens,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty" toml:"maxIterations,omitempty"`
	SystemPrompt  string  `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty" toml:"systemPrompt,omitempty"`
	// ExportFilter is a CEL expression selecting the tools offered to the
	// model.
	ExportFilter string `json:"exportFilter,omitempty" yaml:"exportFilter,omitempty" toml:"exportFilter,omitempty"`
}

type Config struct {
	MCPServers map[string]Server `json:"mcpServers" yaml:"mcpServers" toml:"mcpServers"`
	Chat       Chat              `json:"chat,omitempty" yaml:"chat,omitempty" toml:"chat,omitempty"`
}

var (
	defaultServer = Server{TimeoutSeconds: 30}
	defaultChat   = Chat{
		BaseURL:       "https://api.openai.com/v1",
		Model:         "gpt-4o",
		Temperature:   0.7,
		MaxIterations: 10,
	}
)

// Load reads the config file at path. The format follows the extension:
// .yaml/.yml, .toml, anything else is JSON. Unset values take defaults and
// MCP_CHAT_API_KEY, MCP_CHAT_BASE_URL and MCP_CHAT_MODEL override the chat
// section.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, formatOf(path))
}

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

// Parse decodes data in the given format, then validates and completes it
// the same way Load does.
func Parse(data []byte, format Format) (*Config, error) {
	var raw map[string]any
	if err := decode(data, format, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", format, err)
	}
	if err := validateServers(raw["mcpServers"]); err != nil {
		return nil, err
	}

	var cfg Config
	if err := decode(data, format, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServers, err)
	}
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, format Format, v any) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, v)
	case FormatTOML:
		return toml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

func validateServers(section any) error {
	servers, ok := section.(map[string]any)
	if !ok {
		if section == nil {
			return fmt.Errorf("%w: section is missing", ErrInvalidServers)
		}
		return fmt.Errorf("%w: expected a mapping of server names, got %T", ErrInvalidServers, section)
	}
	if len(servers) == 0 {
		return fmt.Errorf("%w: no servers configured", ErrInvalidServers)
	}
	for name, entry := range servers {
		fields, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: server %q is not a mapping", ErrInvalidServers, name)
		}
		if cmd, _ := fields["command"].(string); strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("%w: server %q has no command", ErrInvalidServers, name)
		}
	}
	return nil
}

func (c *Config) complete() error {
	for name, srv := range c.MCPServers {
		if err := mergo.Merge(&srv, defaultServer); err != nil {
			return fmt.Errorf("failed to apply defaults to server %q: %w", name, err)
		}
		c.MCPServers[name] = srv
	}
	if err := mergo.Merge(&c.Chat, defaultChat); err != nil {
		return fmt.Errorf("failed to apply chat defaults: %w", err)
	}

	if v := os.Getenv("MCP_CHAT_API_KEY"); v != "" {
		c.Chat.APIKey = v
	}
	if v := os.Getenv("MCP_CHAT_BASE_URL"); v != "" {
		c.Chat.BaseURL = v
	}
	if v := os.Getenv("MCP_CHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	return nil
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server returns the named server. An empty name selects the first server
// in sorted order.
func (c *Config) Server(name string) (string, Server, error) {
	if name == "" {
		names := c.Names()
		if len(names) == 0 {
			return "", Server{}, fmt.Errorf("%w: no servers configured", ErrInvalidServers)
		}
		name = names[0]
	}
	srv, ok := c.MCPServers[name]
	if !ok {
		return "", Server{}, fmt.Errorf("%w: %q (configured: %s)", ErrUnknownServer, name, strings.Join(c.Names(), ", "))
	}
	return name, srv, nil
}
