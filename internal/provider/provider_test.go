package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	o "github.com/onsi/gomega"
)

func newTestServer(t *testing.T) *FileMCPServer {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	must(os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	must(os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "docs", "README.md"), []byte("# docs\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref\n"), 0o644))

	s, err := NewFileMCPServer(Config{ServerName: "xcf", ServerVersion: "test", Root: root, CacheTTL: time.Minute})
	must(err)
	return s
}

func TestWorkspace_ReadFile(t *testing.T) {
	g := o.NewWithT(t)
	s := newTestServer(t)

	got, err := s.workspace.ReadFile(ReadFileArgs{Path: "docs/README.md"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(got).To(o.Equal("# docs\n"))

	_, err = s.workspace.ReadFile(ReadFileArgs{Path: "../etc/passwd"})
	g.Expect(errors.Is(err, ErrOutsideRoot)).To(o.BeTrue())

	_, err = s.workspace.ReadFile(ReadFileArgs{Path: "missing.txt"})
	g.Expect(errors.Is(err, os.ErrNotExist)).To(o.BeTrue())

	_, err = s.workspace.ReadFile(ReadFileArgs{})
	g.Expect(err).To(o.MatchError("path is required"))
}

func TestWorkspace_ListDirUsesCache(t *testing.T) {
	g := o.NewWithT(t)
	s := newTestServer(t)

	names, err := s.workspace.ListDir(ListDirArgs{})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(names).To(o.Equal([]string{".git/", "docs/", "main.go"}))
	g.Expect(s.workspace.cache.Len()).To(o.Equal(1))

	// A file created behind the provider's back stays invisible until the
	// cache is invalidated by a write.
	g.Expect(os.WriteFile(filepath.Join(s.workspace.Root(), "extra.txt"), nil, 0o644)).To(o.Succeed())
	names, _ = s.workspace.ListDir(ListDirArgs{})
	g.Expect(names).ToNot(o.ContainElement("extra.txt"))

	_, err = s.workspace.WriteFile(WriteFileArgs{Path: "notes/todo.txt", Content: "buy milk"})
	g.Expect(err).ToNot(o.HaveOccurred())
	names, _ = s.workspace.ListDir(ListDirArgs{})
	g.Expect(names).To(o.ContainElements("extra.txt", "notes/"))
}

func TestWorkspace_SearchFiles(t *testing.T) {
	g := o.NewWithT(t)
	s := newTestServer(t)

	found, err := s.workspace.SearchFiles(SearchFilesArgs{Pattern: "*.md"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(found).To(o.Equal([]string{"docs/README.md"}))

	found, err = s.workspace.SearchFiles(SearchFilesArgs{Pattern: "MAIN"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(found).To(o.Equal([]string{"main.go"}))

	found, err = s.workspace.SearchFiles(SearchFilesArgs{Pattern: "HEAD"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(found).To(o.BeEmpty())

	_, err = s.workspace.SearchFiles(SearchFilesArgs{Pattern: "["})
	g.Expect(err).To(o.HaveOccurred())
}

func TestListingCache_Expiry(t *testing.T) {
	g := o.NewWithT(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewListingCache(time.Minute)
	c.now = func() time.Time { return now }

	key := c.GenerateKey(ListDirArgs{Path: "docs"})
	g.Expect(key).To(o.Equal(c.GenerateKey(ListDirArgs{Path: "docs"})))
	g.Expect(key).ToNot(o.Equal(c.GenerateKey(ListDirArgs{Path: "src"})))

	c.Set(key, []string{"a"})
	got, ok := c.Get(key)
	g.Expect(ok).To(o.BeTrue())
	g.Expect(got).To(o.Equal([]string{"a"}))

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(key)
	g.Expect(ok).To(o.BeFalse())
	g.Expect(c.Len()).To(o.BeZero())

	disabled := NewListingCache(0)
	disabled.Set(key, []string{"a"})
	g.Expect(disabled.Len()).To(o.BeZero())
}

func TestUmbrella(t *testing.T) {
	g := o.NewWithT(t)
	s := newTestServer(t)

	tests := []struct {
		command string
		want    string
	}{
		{command: "ping", want: "pong"},
		{command: "LIST", want: "read_file\nlist_dir\nsearch_files\nwrite_file\nxcf"},
		{command: "", want: s.umbrella.help()},
		{command: "help me", want: s.umbrella.help()},
	}
	for _, tt := range tests {
		got, err := s.umbrella.Execute(UmbrellaArgs{Command: tt.command})
		g.Expect(err).ToNot(o.HaveOccurred(), tt.command)
		g.Expect(got).To(o.Equal(tt.want), tt.command)
	}

	got, err := s.umbrella.Execute(UmbrellaArgs{Command: "status"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(got).To(o.ContainSubstring("root: " + s.workspace.Root()))
	g.Expect(got).To(o.ContainSubstring("tools: 5"))

	_, err = s.umbrella.Execute(UmbrellaArgs{Command: "dance"})
	g.Expect(err).To(o.MatchError(o.ContainSubstring(`unknown xcf command "dance"`)))
}

func TestHandle(t *testing.T) {
	g := o.NewWithT(t)
	h := handle(func(_ context.Context, args ReadFileArgs) (string, error) {
		if args.Path == "bad" {
			return "", errors.New("no such file")
		}
		return "ok " + args.Path, nil
	})

	res, err := h(context.Background(), nil, &mcp.CallToolParamsFor[ReadFileArgs]{Arguments: ReadFileArgs{Path: "a.txt"}})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(res.IsError).To(o.BeFalse())
	g.Expect(res.Content).To(o.HaveLen(1))
	g.Expect(res.Content[0].(*mcp.TextContent).Text).To(o.Equal("ok a.txt"))

	res, err = h(context.Background(), nil, &mcp.CallToolParamsFor[ReadFileArgs]{Arguments: ReadFileArgs{Path: "bad"}})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(res.IsError).To(o.BeTrue())
	g.Expect(res.Content[0].(*mcp.TextContent).Text).To(o.Equal("no such file"))
}
