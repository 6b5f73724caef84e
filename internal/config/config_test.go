package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	o "github.com/onsi/gomega"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_Formats(t *testing.T) {
	files := map[string]string{
		"servers.json": `{
			"mcpServers": {
				"fs": {"command": "fs-provider", "args": ["-root", "/tmp"], "env": {"DEBUG": "1"}, "umbrella": "xcf"}
			},
			"chat": {"model": "gpt-test", "maxIterations": 4}
		}`,
		"servers.yaml": `
mcpServers:
  fs:
    command: fs-provider
    args: ["-root", "/tmp"]
    env:
      DEBUG: "1"
    umbrella: xcf
chat:
  model: gpt-test
  maxIterations: 4
`,
		"servers.toml": `
[mcpServers.fs]
command = "fs-provider"
args = ["-root", "/tmp"]
umbrella = "xcf"

[mcpServers.fs.env]
DEBUG = "1"

[chat]
model = "gpt-test"
maxIterations = 4
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			g := o.NewWithT(t)

			cfg, err := Load(write(t, name, content))
			g.Expect(err).ToNot(o.HaveOccurred())

			srvName, srv, err := cfg.Server("")
			g.Expect(err).ToNot(o.HaveOccurred())
			g.Expect(srvName).To(o.Equal("fs"))
			g.Expect(srv.Command).To(o.Equal("fs-provider"))
			g.Expect(srv.Args).To(o.Equal([]string{"-root", "/tmp"}))
			g.Expect(srv.Env).To(o.Equal(map[string]string{"DEBUG": "1"}))
			g.Expect(srv.Umbrella).To(o.Equal("xcf"))
			g.Expect(srv.Timeout()).To(o.Equal(30 * time.Second))

			g.Expect(cfg.Chat.Model).To(o.Equal("gpt-test"))
			g.Expect(cfg.Chat.MaxIterations).To(o.Equal(4))
			g.Expect(cfg.Chat.BaseURL).To(o.Equal("https://api.openai.com/v1"))
		})
	}
}

func TestLoad_RecoverableErrors(t *testing.T) {
	g := o.NewWithT(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	g.Expect(errors.Is(err, ErrNotFound)).To(o.BeTrue())

	for _, content := range []string{
		`{"chat": {}}`,
		`{"mcpServers": []}`,
		`{"mcpServers": {}}`,
		`{"mcpServers": {"fs": "fs-provider"}}`,
		`{"mcpServers": {"fs": {"args": ["x"]}}}`,
		`{"mcpServers": {"fs": {"command": "x", "args": "not-a-list"}}}`,
	} {
		_, err := Parse([]byte(content), FormatJSON)
		g.Expect(errors.Is(err, ErrInvalidServers)).To(o.BeTrue(), content)
	}

	_, err = Parse([]byte(`{"mcpServers": `), FormatJSON)
	g.Expect(err).To(o.MatchError(o.ContainSubstring("failed to parse json config")))
	g.Expect(errors.Is(err, ErrInvalidServers)).To(o.BeFalse())
}

func TestLoad_EnvOverrides(t *testing.T) {
	g := o.NewWithT(t)
	t.Setenv("MCP_CHAT_API_KEY", "from-env")
	t.Setenv("MCP_CHAT_MODEL", "env-model")

	cfg, err := Parse([]byte(`{"mcpServers": {"a": {"command": "a", "timeoutSeconds": 5}}, "chat": {"apiKey": "from-file", "model": "file-model"}}`), FormatJSON)
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(cfg.Chat.APIKey).To(o.Equal("from-env"))
	g.Expect(cfg.Chat.Model).To(o.Equal("env-model"))
	g.Expect(cfg.MCPServers["a"].Timeout()).To(o.Equal(5 * time.Second))
}

func TestServerLookup(t *testing.T) {
	g := o.NewWithT(t)

	cfg, err := Parse([]byte(`{"mcpServers": {"zeta": {"command": "z"}, "alpha": {"command": "a"}}}`), FormatJSON)
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(cfg.Names()).To(o.Equal([]string{"alpha", "zeta"}))

	name, srv, err := cfg.Server("")
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(name).To(o.Equal("alpha"))
	g.Expect(srv.Command).To(o.Equal("a"))

	_, _, err = cfg.Server("beta")
	g.Expect(errors.Is(err, ErrUnknownServer)).To(o.BeTrue())
	g.Expect(err).To(o.MatchError(o.ContainSubstring("alpha, zeta")))
}
