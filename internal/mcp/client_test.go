package mcp

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/takashabe/mcp-chat/internal/mcp/mcptest"
	"github.com/takashabe/mcp-chat/internal/rpc"
	"github.com/takashabe/mcp-chat/pkg/types"

	o "github.com/onsi/gomega"
)

func newTestClient(t *testing.T, srv *mcptest.Server) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	session, err := mcptest.Dial(ctx, srv, rpc.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Disconnect()
		cancel()
	})
	return NewClient(session, time.Second)
}

func TestClient_Initialize(t *testing.T) {
	g := o.NewWithT(t)
	srv := mcptest.NewServer()
	c := newTestClient(t, srv)

	res, err := c.Initialize(context.Background())
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(res.ServerInfo.Name).To(o.Equal("mcptest"))
	g.Eventually(srv.Notifications).Should(o.ContainElement(types.MethodInitialized))
}

func TestClient_ListToolsFollowsCursor(t *testing.T) {
	g := o.NewWithT(t)
	srv := mcptest.NewServer(
		mcptest.Tool{Name: "a"},
		mcptest.Tool{Name: "b", Schema: map[string]any{}},
		mcptest.Tool{Name: "c", Schema: map[string]any{"type": "object"}},
	)
	srv.SetPageSize(2)
	c := newTestClient(t, srv)

	tools, err := c.ListTools(context.Background())
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(tools).To(o.HaveLen(3))
	g.Expect(tools[0].Name).To(o.Equal("a"))
	g.Expect(tools[0].InputSchema).To(o.BeNil())
	g.Expect(tools[1].InputSchema).To(o.Equal(map[string]any{}))
	g.Expect(tools[2].Name).To(o.Equal("c"))
}

func TestClient_CallToolDecodesSegments(t *testing.T) {
	g := o.NewWithT(t)
	srv := mcptest.NewServer(mcptest.Tool{
		Name: "mixed",
		Handler: func(map[string]any) ([]map[string]any, bool, error) {
			return []map[string]any{
				{"type": "text", "text": "hello"},
				{"type": "image", "data": "aGk=", "mimeType": "image/png"},
				{"type": "audio", "data": "AAAA", "mimeType": "audio/wav"},
				{"type": "resource", "resource": map[string]any{
					"uri": "file:///tmp/x", "mimeType": "text/plain", "text": "contents",
				}},
				{"type": "hologram", "depth": 3},
			}, false, nil
		},
	})
	c := newTestClient(t, srv)

	res, err := c.CallTool(context.Background(), "mixed", map[string]any{"k": "v"})
	g.Expect(err).ToNot(o.HaveOccurred())
	g.Expect(res.IsError).To(o.BeFalse())
	g.Expect(res.Content).To(o.HaveLen(5))
	g.Expect(res.Content[0]).To(o.Equal(types.TextSegment{Text: "hello"}))
	g.Expect(res.Content[1]).To(o.Equal(types.ImageSegment{Data: "aGk=", MIMEType: "image/png"}))
	g.Expect(res.Content[2].Kind()).To(o.Equal(types.SegmentAudio))
	g.Expect(res.Content[3]).To(o.Equal(types.ResourceSegment{
		URI: "file:///tmp/x", MIMEType: "text/plain", Text: "contents",
	}))
	g.Expect(res.Content[4].Kind()).To(o.Equal(types.SegmentUnknown))
	g.Expect(res.Text()).To(o.ContainSubstring("hello"))
	g.Expect(res.Text()).To(o.ContainSubstring(`unsupported content type "hologram"`))

	g.Expect(srv.Calls()).To(o.Equal([]mcptest.Call{{Name: "mixed", Arguments: map[string]any{"k": "v"}}}))
}

func TestClient_CallToolProtocolError(t *testing.T) {
	g := o.NewWithT(t)
	c := newTestClient(t, mcptest.NewServer())

	_, err := c.CallTool(context.Background(), "missing", nil)
	var perr *types.ProtocolError
	g.Expect(errors.As(err, &perr)).To(o.BeTrue())
	g.Expect(perr.Code).To(o.Equal(types.CodeInvalidParams))
}
