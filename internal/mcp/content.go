package mcp

import (
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/takashabe/mcp-chat/pkg/types"
)

type wireCallToolResult struct {
	Content []map[string]any `json:"content"`
	IsError bool             `json:"isError,omitempty"`
}

// DecodeCallToolResult decodes a tools/call result. Segments are decoded
// one by one so a single unsupported segment degrades to UnknownSegment
// instead of failing the whole result.
func DecodeCallToolResult(raw json.RawMessage) (*types.CallToolResult, error) {
	var wire wireCallToolResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CallToolResult: %w", err)
	}
	result := &types.CallToolResult{IsError: wire.IsError}
	for _, c := range wire.Content {
		result.Content = append(result.Content, decodeSegment(c))
	}
	return result, nil
}

func decodeSegment(raw map[string]any) types.Segment {
	unknown := types.UnknownSegment{Type: fmt.Sprint(raw["type"]), Raw: raw}

	content, err := mcpgo.ParseContent(raw)
	if err != nil {
		return unknown
	}
	switch c := content.(type) {
	case mcpgo.TextContent:
		return types.TextSegment{Text: c.Text}
	case *mcpgo.TextContent:
		return types.TextSegment{Text: c.Text}
	case mcpgo.ImageContent:
		return types.ImageSegment{Data: c.Data, MIMEType: c.MIMEType}
	case *mcpgo.ImageContent:
		return types.ImageSegment{Data: c.Data, MIMEType: c.MIMEType}
	case mcpgo.AudioContent:
		return types.AudioSegment{Data: c.Data, MIMEType: c.MIMEType}
	case *mcpgo.AudioContent:
		return types.AudioSegment{Data: c.Data, MIMEType: c.MIMEType}
	case mcpgo.ResourceLink:
		return types.ResourceSegment{URI: c.URI, MIMEType: c.MIMEType}
	case *mcpgo.ResourceLink:
		return types.ResourceSegment{URI: c.URI, MIMEType: c.MIMEType}
	case mcpgo.EmbeddedResource:
		return resourceSegment(c.Resource)
	case *mcpgo.EmbeddedResource:
		return resourceSegment(c.Resource)
	}
	return unknown
}

func resourceSegment(r mcpgo.ResourceContents) types.Segment {
	switch rc := r.(type) {
	case mcpgo.TextResourceContents:
		return types.ResourceSegment{URI: rc.URI, MIMEType: rc.MIMEType, Text: rc.Text}
	case *mcpgo.TextResourceContents:
		return types.ResourceSegment{URI: rc.URI, MIMEType: rc.MIMEType, Text: rc.Text}
	case mcpgo.BlobResourceContents:
		return types.ResourceSegment{URI: rc.URI, MIMEType: rc.MIMEType}
	case *mcpgo.BlobResourceContents:
		return types.ResourceSegment{URI: rc.URI, MIMEType: rc.MIMEType}
	}
	return types.UnknownSegment{Type: "resource"}
}
