package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// ErrNoChoices is returned for a completion without any choice.
var ErrNoChoices = errors.New("no choices in response")

type Config struct {
	BaseURL string
	APIKey  string
	// Model is used for requests that do not name one.
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	limiter *RateLimiter
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRateLimiter(r *RateLimiter) Option {
	return func(c *Client) { c.limiter = r }
}

func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s (%s)", chatResp.Error.Message, chatResp.Error.Type)
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := chatResp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        chatResp.Usage,
	}, nil
}

// Stream sends req with streaming enabled and yields deltas as the server
// sends them. The request is made when iteration starts; stopping early
// closes the connection. A failure is yielded once as the final element.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[Delta, error] {
	req.Stream = true
	return func(yield func(Delta, error) bool) {
		resp, err := c.post(ctx, req)
		if err != nil {
			yield(Delta{}, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk chunkResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield(Delta{}, fmt.Errorf("unmarshal stream chunk: %w", err))
				return
			}
			if chunk.Error != nil {
				yield(Delta{}, fmt.Errorf("API error: %s (%s)", chunk.Error.Message, chunk.Error.Type))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if !yield(toDelta(chunk), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Delta{}, fmt.Errorf("read stream: %w", err))
		}
	}
}

func toDelta(chunk chunkResponse) Delta {
	choice := chunk.Choices[0]
	d := Delta{Content: choice.Delta.Content, FinishReason: choice.FinishReason}
	for _, tc := range choice.Delta.ToolCalls {
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}

// post sends req, retrying rate-limited attempts. The caller closes the
// body of the returned response.
func (c *Client) post(ctx context.Context, req Request) (*http.Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *http.Response
	err = c.limiter.ExecuteWithBackoff(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		r, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return &StatusError{StatusCode: r.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
