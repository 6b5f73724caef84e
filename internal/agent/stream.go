package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/takashabe/mcp-chat/internal/completion"
)

// sink forwards visible chunks to the consumer until it stops ranging.
type sink struct {
	yield   func(string, error) bool
	stopped bool
}

func (s *sink) emit(chunk string) {
	if s.stopped || chunk == "" {
		return
	}
	if !s.yield(chunk, nil) {
		s.stopped = true
	}
}

func (s *sink) fail(err error) {
	if !s.stopped {
		s.yield("", err)
		s.stopped = true
	}
}

// StreamMessage is ProcessMessage over the streaming API. It yields the
// visible answer in chunks as they arrive, with thinking segments and
// <tool_call> blocks removed, and a failure once as the last element.
//
// The sequence can be ranged over once. A consumer that stops early does
// not cancel the cycle: the rest of the response is read and the
// transcript is committed in full. Use LastResponse for the metadata of
// the committed cycle.
func (a *Agent) StreamMessage(ctx context.Context, text string) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		out := &sink{yield: yield}

		text := strings.TrimSpace(text)
		if text == "" {
			out.fail(ErrEmptyMessage)
			return
		}
		if err := a.acquire(); err != nil {
			out.fail(err)
			return
		}
		defer a.release()

		if resp, ok := a.runDirect(ctx, text); ok {
			out.emit(resp.Content)
			return
		}

		if err := a.streamCycle(ctx, text, out); err != nil {
			a.logger.Printf("Streamed message rolled back: %v", err)
			out.fail(err)
		}
	}
}

func (a *Agent) streamCycle(ctx context.Context, text string, out *sink) error {
	c := a.begin(text)
	for c.iterations < a.maxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.iterations++

		var (
			acc    completion.Accumulator
			filter segmentFilter
		)
		for delta, err := range a.completer.Stream(ctx, a.request(c, true)) {
			if err != nil {
				return fmt.Errorf("completion failed: %w", err)
			}
			acc.Add(delta)
			if delta.Content != "" {
				out.emit(filter.Push(delta.Content))
			}
		}
		out.emit(filter.Flush())

		completed := acc.Response()
		intents := a.intentsFrom(completed)
		if len(intents) == 0 {
			a.commit(c, a.finish(c, completed.Content))
			return nil
		}
		a.runTools(ctx, c, completed.Content, intents)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp := a.capped(c)
	out.emit(resp.Content)
	a.commit(c, resp)
	return nil
}
