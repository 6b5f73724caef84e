package types

import (
	"fmt"
	"strings"
)

type SegmentKind string

const (
	SegmentText     SegmentKind = "text"
	SegmentImage    SegmentKind = "image"
	SegmentAudio    SegmentKind = "audio"
	SegmentResource SegmentKind = "resource"
	SegmentUnknown  SegmentKind = "unknown"
)

// Segment is one typed piece of tool output. The set of implementations is
// closed: TextSegment, ImageSegment, AudioSegment, ResourceSegment and
// UnknownSegment.
type Segment interface {
	Kind() SegmentKind
	isSegment()
}

type TextSegment struct {
	Text string
}

type ImageSegment struct {
	Data     string
	MIMEType string
}

type AudioSegment struct {
	Data     string
	MIMEType string
}

// ResourceSegment covers embedded resources and resource links.
type ResourceSegment struct {
	URI      string
	MIMEType string
	Text     string
}

type UnknownSegment struct {
	Type string
	Raw  map[string]any
}

func (TextSegment) Kind() SegmentKind     { return SegmentText }
func (ImageSegment) Kind() SegmentKind    { return SegmentImage }
func (AudioSegment) Kind() SegmentKind    { return SegmentAudio }
func (ResourceSegment) Kind() SegmentKind { return SegmentResource }
func (UnknownSegment) Kind() SegmentKind  { return SegmentUnknown }

func (TextSegment) isSegment()     {}
func (ImageSegment) isSegment()    {}
func (AudioSegment) isSegment()    {}
func (ResourceSegment) isSegment() {}
func (UnknownSegment) isSegment()  {}

// RenderSegment turns a segment into the text forwarded to the chat log or
// to the completion model.
func RenderSegment(s Segment) string {
	switch seg := s.(type) {
	case TextSegment:
		return seg.Text
	case ImageSegment:
		return fmt.Sprintf("[image %s, %d bytes base64]", seg.MIMEType, len(seg.Data))
	case AudioSegment:
		return fmt.Sprintf("[audio %s, %d bytes base64]", seg.MIMEType, len(seg.Data))
	case ResourceSegment:
		if seg.Text != "" {
			return seg.Text
		}
		return fmt.Sprintf("[resource %s]", seg.URI)
	case UnknownSegment:
		return fmt.Sprintf("[unsupported content type %q]", seg.Type)
	default:
		panic(fmt.Sprintf("unhandled segment %T", s))
	}
}

// CallToolResult is a decoded tools/call response.
type CallToolResult struct {
	Content []Segment
	IsError bool
}

// Text joins the rendered segments, one per line.
func (r *CallToolResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, s := range r.Content {
		parts = append(parts, RenderSegment(s))
	}
	return strings.Join(parts, "\n")
}
