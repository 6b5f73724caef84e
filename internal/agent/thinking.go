package agent

import (
	"regexp"
	"strings"
)

const (
	thinkOpen  = "<thinking>"
	thinkClose = "</thinking>"
)

var (
	thinkingPair     = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)
	thinkingUnclosed = regexp.MustCompile(`(?s)<thinking>.*$`)
)

// splitThinking returns the content of the first thinking segment and
// text with every segment removed. An unterminated segment runs to the end
// of text.
func splitThinking(text string) (visible string, thinking *string) {
	if m := thinkingPair.FindStringSubmatch(text); m != nil {
		t := strings.TrimSpace(m[1])
		thinking = &t
	}
	visible = thinkingPair.ReplaceAllString(text, "")
	visible = thinkingUnclosed.ReplaceAllString(visible, "")
	return strings.TrimSpace(visible), thinking
}

// segment is a tagged span that never reaches the streamed output.
type segment struct {
	open, close string
}

// hiddenSegments are the spans a segmentFilter removes. Tool calls written
// as text are executed after the completion ends, so they are hidden like
// thinking. Fenced JSON stays visible since it cannot be told apart from
// an ordinary code block until the completion is parsed.
var hiddenSegments = []segment{
	{thinkOpen, thinkClose},
	{"<tool_call>", "</tool_call>"},
}

// segmentFilter removes hidden segments from streamed text whose tags may
// be split across chunks.
type segmentFilter struct {
	buf     string
	close   string
	started bool
}

// Push consumes a chunk and returns the text that is safe to show.
func (f *segmentFilter) Push(chunk string) string {
	f.buf += chunk
	var out strings.Builder
	for {
		if f.close != "" {
			i := strings.Index(f.buf, f.close)
			if i < 0 {
				f.buf = f.buf[len(f.buf)-partialSuffix(f.buf, f.close):]
				break
			}
			f.buf = f.buf[i+len(f.close):]
			f.close = ""
			continue
		}
		seg, i := nextSegment(f.buf)
		if i < 0 {
			keep := 0
			for _, s := range hiddenSegments {
				keep = max(keep, partialSuffix(f.buf, s.open))
			}
			out.WriteString(f.buf[:len(f.buf)-keep])
			f.buf = f.buf[len(f.buf)-keep:]
			break
		}
		out.WriteString(f.buf[:i])
		f.buf = f.buf[i+len(seg.open):]
		f.close = seg.close
	}
	return f.trimLeading(out.String())
}

// Flush returns whatever was held back and resets the filter.
func (f *segmentFilter) Flush() string {
	var rest string
	if f.close == "" {
		rest = f.trimLeading(f.buf)
	}
	*f = segmentFilter{}
	return rest
}

// trimLeading drops whitespace before the first visible text, as left
// behind by a leading hidden segment.
func (f *segmentFilter) trimLeading(s string) string {
	if !f.started {
		s = strings.TrimLeft(s, " \t\r\n")
		f.started = s != ""
	}
	return s
}

// nextSegment returns the earliest opening tag in s and its index, or -1.
func nextSegment(s string) (segment, int) {
	var (
		found segment
		at    = -1
	)
	for _, seg := range hiddenSegments {
		if i := strings.Index(s, seg.open); i >= 0 && (at < 0 || i < at) {
			found, at = seg, i
		}
	}
	return found, at
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	n := len(tag) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
