package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	o "github.com/onsi/gomega"

	"github.com/takashabe/mcp-chat/internal/mcp"
	"github.com/takashabe/mcp-chat/internal/mcp/mcptest"
	"github.com/takashabe/mcp-chat/internal/schema"
	"github.com/takashabe/mcp-chat/pkg/types"
)

func setup(t *testing.T, tools ...mcptest.Tool) (*Registry, *mcptest.Server, *bytes.Buffer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := mcptest.NewServer(tools...)
	session, err := mcptest.Dial(ctx, server)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = session.Disconnect() })

	var buf bytes.Buffer
	reg := New(mcp.NewClient(session, 2*time.Second), WithLogger(log.New(&buf, "", 0)))
	if _, err := reg.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return reg, server, &buf
}

func twoParamTool() mcptest.Tool {
	return mcptest.Tool{
		Name:        "configure",
		Description: "Configure the build",
		Category:    "build",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"stringParam": map[string]any{"type": "string"},
				"intParam":    map[string]any{"type": "integer"},
				"mode":        map[string]any{"type": "string", "enum": []any{"debug", "release"}},
			},
			"required": []any{"stringParam", "intParam"},
		},
		Handler: func(args map[string]any) ([]map[string]any, bool, error) {
			return mcptest.Text(fmt.Sprintf("configured %v", args["stringParam"])), false, nil
		},
	}
}

func TestRefresh(t *testing.T) {
	g := o.NewWithT(t)

	reg, server, logs := setup(t,
		twoParamTool(),
		mcptest.Tool{Name: "opaque", Description: "does things", Schema: map[string]any{"type": "object", "description": "magic"}},
		mcptest.Tool{Name: "opaque", Description: "duplicate"},
		mcptest.Tool{Name: "noargs", Schema: map[string]any{"type": "object", "properties": map[string]any{}}},
	)

	g.Expect(reg.Names()).To(o.Equal([]string{"configure", "opaque", "noargs"}))

	tool, ok := reg.Find("configure")
	g.Expect(ok).To(o.BeTrue())
	g.Expect(tool.Required()).To(o.Equal([]string{"stringParam", "intParam"}))
	g.Expect(tool.Category).To(o.Equal("build"))

	opaque, _ := reg.Find("opaque")
	g.Expect(opaque.Caution).To(o.BeTrue())
	g.Expect(opaque.Description).To(o.Equal("does things"))
	g.Expect(logs.String()).To(o.ContainSubstring(`schema inference warning for "opaque"`))
	g.Expect(logs.String()).To(o.ContainSubstring(`Skipping duplicate tool "opaque"`))

	noargs, _ := reg.Find("noargs")
	g.Expect(noargs.Caution).To(o.BeFalse())

	server.SetTools(mcptest.Tool{Name: "fresh"})
	_, err := reg.Refresh(context.Background())
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(reg.Names()).To(o.Equal([]string{"fresh"}))
	_, ok = reg.Find("configure")
	g.Expect(ok).To(o.BeFalse())
}

type failingProvider struct{ Provider }

func (failingProvider) ListTools(context.Context) ([]types.Tool, error) {
	return nil, types.ErrNotConnected
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	g := o.NewWithT(t)

	reg, _, _ := setup(t, twoParamTool())
	reg.provider = failingProvider{}

	_, err := reg.Refresh(context.Background())
	g.Expect(errors.Is(err, types.ErrNotConnected)).To(o.BeTrue())
	g.Expect(reg.Names()).To(o.Equal([]string{"configure"}))
}

func TestCategoryAndExamples(t *testing.T) {
	g := o.NewWithT(t)

	g.Expect(categoryOf(types.Tool{Annotations: map[string]any{"category": "files"}})).To(o.Equal("files"))
	g.Expect(categoryOf(types.Tool{Meta: map[string]any{"category": " vcs "}})).To(o.Equal("vcs"))
	g.Expect(categoryOf(types.Tool{})).To(o.BeEmpty())

	g.Expect(examplesOf(types.Tool{InputSchema: map[string]any{"examples": []any{"xcf help", 3}}})).
		To(o.Equal([]string{"xcf help"}))
}

func TestSearchAndByCategory(t *testing.T) {
	g := o.NewWithT(t)

	reg, _, _ := setup(t,
		mcptest.Tool{Name: "read_file", Description: "Read a file", Category: "files"},
		mcptest.Tool{Name: "list_dir", Description: "List directory entries", Category: "Files"},
		mcptest.Tool{Name: "build", Description: "Build the project and read logs", Category: "xcode"},
	)

	names := func(tools []Tool) []string {
		out := []string{}
		for _, tl := range tools {
			out = append(out, tl.Name)
		}
		return out
	}

	g.Expect(names(reg.Search("READ"))).To(o.Equal([]string{"read_file", "build"}))
	g.Expect(names(reg.Search("files"))).To(o.Equal([]string{"read_file", "list_dir"}))
	g.Expect(names(reg.Search("xcode"))).To(o.Equal([]string{"build"}))
	g.Expect(names(reg.Search("nothing"))).To(o.BeEmpty())
	g.Expect(reg.Search("")).To(o.HaveLen(3))

	g.Expect(names(reg.ByCategory("FILES"))).To(o.Equal([]string{"read_file", "list_dir"}))
	g.Expect(reg.ByCategory("")).To(o.BeEmpty())
}

func TestInvoke_Validation(t *testing.T) {
	g := o.NewWithT(t)
	ctx := context.Background()

	reg, server, _ := setup(t, twoParamTool())

	_, err := reg.Invoke(ctx, "configure", map[string]any{"stringParam": "v"})
	var missing *types.MissingRequiredParameterError
	g.Expect(errors.As(err, &missing)).To(o.BeTrue())
	g.Expect(missing.Name).To(o.Equal("intParam"))

	_, err = reg.Invoke(ctx, "configure", map[string]any{"stringParam": 123})
	var badType *types.InvalidParameterTypeError
	g.Expect(errors.As(err, &badType)).To(o.BeTrue())
	g.Expect(badType.Name).To(o.Equal("stringParam"))
	g.Expect(badType.Expected).To(o.Equal("string"))

	_, err = reg.Invoke(ctx, "configure", map[string]any{"stringParam": "v", "intParam": 1.5})
	g.Expect(errors.As(err, &badType)).To(o.BeTrue())
	g.Expect(badType.Name).To(o.Equal("intParam"))

	_, err = reg.Invoke(ctx, "configure", map[string]any{"stringParam": "v", "intParam": 1, "mode": "fast"})
	var badEnum *types.InvalidEnumValueError
	g.Expect(errors.As(err, &badEnum)).To(o.BeTrue())
	g.Expect(badEnum.Allowed).To(o.Equal([]string{"debug", "release"}))

	_, err = reg.Invoke(ctx, "missing", nil)
	var notFound *types.ToolNotFoundError
	g.Expect(errors.As(err, &notFound)).To(o.BeTrue())

	g.Expect(server.Calls()).To(o.BeEmpty())

	result, err := reg.Invoke(ctx, "configure", map[string]any{"stringParam": "v", "intParam": float64(2), "mode": "debug"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(result.Text()).To(o.Equal("configured v"))
	g.Expect(server.Calls()).To(o.HaveLen(1))
}

func TestInvoke_ExecutionFailed(t *testing.T) {
	g := o.NewWithT(t)
	ctx := context.Background()

	reg, server, _ := setup(t,
		mcptest.Tool{
			Name: "flaky",
			Handler: func(map[string]any) ([]map[string]any, bool, error) {
				return mcptest.Text("disk full"), true, nil
			},
		},
		mcptest.Tool{Name: "gone"},
	)

	result, err := reg.Invoke(ctx, "flaky", nil)
	var failed *types.ExecutionFailedError
	g.Expect(errors.As(err, &failed)).To(o.BeTrue())
	g.Expect(failed.Reason).To(o.Equal("disk full"))
	g.Expect(result.IsError).To(o.BeTrue())

	// The provider dropped the tool after the last refresh.
	server.SetTools()
	_, err = reg.Invoke(ctx, "gone", nil)
	g.Expect(errors.As(err, &failed)).To(o.BeTrue())
	var protocol *types.ProtocolError
	g.Expect(errors.As(err, &protocol)).To(o.BeTrue())
	g.Expect(protocol.Code).To(o.Equal(types.CodeInvalidParams))
}

func TestArgumentsFromText(t *testing.T) {
	g := o.NewWithT(t)

	tool := Tool{Name: "t", Parameters: []schema.ParameterSpec{
		{Name: "verbose", Type: schema.TypeBoolean},
		{Name: "count", Type: schema.TypeInteger, Required: true},
	}}
	g.Expect(ArgumentsFromText(tool, " 42 ")).To(o.Equal(map[string]any{"count": int64(42)}))
	g.Expect(ArgumentsFromText(tool, "many")).To(o.Equal(map[string]any{"count": "many"}))
	g.Expect(ArgumentsFromText(tool, "")).To(o.Equal(map[string]any{}))
	g.Expect(ArgumentsFromText(tool, `{"verbose": true}`)).To(o.Equal(map[string]any{"verbose": true}))

	optional := Tool{Parameters: []schema.ParameterSpec{{Name: "paths", Type: schema.TypeArray, ItemType: schema.TypeString}}}
	g.Expect(ArgumentsFromText(optional, "a.go, b.go")).To(o.Equal(map[string]any{"paths": []any{"a.go", "b.go"}}))

	g.Expect(ArgumentsFromText(Tool{Caution: true}, "do it")).To(o.Equal(map[string]any{"input": "do it"}))
	g.Expect(ArgumentsFromText(Tool{}, "ignored")).To(o.Equal(map[string]any{}))
}

func TestInvokeText(t *testing.T) {
	g := o.NewWithT(t)

	reg, server, _ := setup(t, mcptest.Tool{
		Name: "read_file",
		Schema: map[string]any{
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	})

	_, err := reg.InvokeText(context.Background(), "read_file", "/tmp/x")
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(server.Calls()).To(o.Equal([]mcptest.Call{{Name: "read_file", Arguments: map[string]any{"path": "/tmp/x"}}}))
}

func TestMetaCommands(t *testing.T) {
	g := o.NewWithT(t)

	reg, _, _ := setup(t, mcptest.Tool{
		Name: "xcf",
		Schema: map[string]any{
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "enum": []any{"help", "List"}},
			},
		},
		Examples: []string{"xcf build", "status", "xcf help"},
	})

	g.Expect(reg.MetaCommands("xcf")).To(o.Equal([]string{"help", "list", "build", "status"}))
	g.Expect(reg.MetaCommands("unknown")).To(o.BeNil())
}

func TestExport_RoundTrip(t *testing.T) {
	g := o.NewWithT(t)

	reg, _, _ := setup(t,
		twoParamTool(),
		mcptest.Tool{Name: "opaque", Schema: "needs something"},
		mcptest.Tool{Name: "tags", Schema: map[string]any{
			"properties": map[string]any{"labels": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}}},
		}},
	)

	exported := reg.ExportForRemoteAPI()
	g.Expect(exported).To(o.HaveLen(3))

	for _, fd := range exported {
		g.Expect(fd.Type).To(o.Equal("function"))
		raw, err := json.Marshal(fd.Function.Parameters)
		g.Expect(err).ToNot(o.HaveOccurred())

		tool, _ := reg.Find(fd.Function.Name)
		reinferred := Tool{Parameters: schema.Infer(json.RawMessage(raw))}
		g.Expect(reinferred.Required()).To(o.Equal(tool.Required()), fd.Function.Name)
	}

	raw, _ := json.Marshal(exported[0].Function.Parameters)
	g.Expect(string(raw)).To(o.ContainSubstring(`"enum":["debug","release"]`))

	raw, _ = json.Marshal(exported[2].Function.Parameters)
	g.Expect(string(raw)).To(o.ContainSubstring(`"items":{"type":"integer"}`))
}

func TestExportFilter(t *testing.T) {
	g := o.NewWithT(t)

	reg, _, _ := setup(t,
		mcptest.Tool{Name: "read_file", Category: "files"},
		mcptest.Tool{Name: "debug_dump", Category: "files"},
		mcptest.Tool{Name: "build", Category: "xcode"},
	)

	g.Expect(reg.SetExportFilter(`category == "files" && !name.startsWith("debug_")`)).To(o.Succeed())
	exported := reg.ExportForRemoteAPI()
	g.Expect(exported).To(o.HaveLen(1))
	g.Expect(exported[0].Function.Name).To(o.Equal("read_file"))

	g.Expect(reg.SetExportFilter(`name`)).ToNot(o.Succeed())
	g.Expect(reg.SetExportFilter(`name ==`)).ToNot(o.Succeed())

	g.Expect(reg.SetExportFilter("")).To(o.Succeed())
	g.Expect(reg.ExportForRemoteAPI()).To(o.HaveLen(3))
}
