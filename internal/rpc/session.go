package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takashabe/mcp-chat/internal/transport"
	"github.com/takashabe/mcp-chat/pkg/types"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// NotificationHandler receives inbound messages that carry a method:
// notifications and server-initiated requests.
type NotificationHandler func(msg *types.Message)

type pendingCall struct {
	id      string
	method  string
	result  chan callResult
	created time.Time
}

type callResult struct {
	msg *types.Message
	err error
}

// Session multiplexes concurrent JSON-RPC calls over one transport.
// Responses are matched by id only; a single read loop demultiplexes
// inbound frames and never blocks on a particular caller.
type Session struct {
	logger Logger
	nextID atomic.Int64

	mu        sync.Mutex
	transport transport.Transport
	pending   map[string]*pendingCall
	done      chan struct{}

	handlersMu sync.RWMutex
	handlers   []NotificationHandler
}

type Option func(*Session)

// WithLogger overrides the default log.Default() logger.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession returns an unconnected session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		logger:  log.Default(),
		pending: make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect attaches t and starts the read loop. A session can be connected
// again after Disconnect.
func (s *Session) Connect(t transport.Transport) error {
	if t == nil {
		return errors.New("nil transport")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		return errors.New("session already connected")
	}
	s.transport = t
	s.done = make(chan struct{})
	go s.readLoop(t, s.done)
	return nil
}

// Connected reports whether a transport is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Call sends a request and waits for the response with the same id. A
// timeout <= 0 means the call is bounded by ctx alone.
func (s *Session) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := s.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	payload, err := encode(json.RawMessage(key), method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{
		id:      key,
		method:  method,
		result:  make(chan callResult, 1),
		created: time.Now(),
	}

	s.mu.Lock()
	t, done := s.transport, s.done
	if t == nil {
		s.mu.Unlock()
		return nil, types.ErrNotConnected
	}
	s.pending[key] = pc
	s.mu.Unlock()

	if err := t.Send(ctx, payload); err != nil {
		if !s.release(key) {
			return unpack(<-pc.result)
		}
		if ctx.Err() != nil {
			// ctx ended before the peer took the request.
			return nil, expired(ctx, pc)
		}
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case res := <-pc.result:
		return unpack(res)
	case <-ctx.Done():
		if !s.release(key) {
			// The response or teardown won the race and is already buffered.
			return unpack(<-pc.result)
		}
		return nil, expired(ctx, pc)
	case <-done:
		// Teardown fails every pending call before closing done.
		select {
		case res := <-pc.result:
			return unpack(res)
		default:
		}
		s.release(key)
		return nil, types.ErrNotConnected
	}
}

// expired maps a finished ctx to the error Call reports.
func expired(ctx context.Context, pc *pendingCall) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", types.ErrTimeout, pc.method, time.Since(pc.created).Round(time.Millisecond))
	}
	return ctx.Err()
}

func unpack(res callResult) (json.RawMessage, error) {
	if res.err != nil {
		return nil, res.err
	}
	if res.msg.Error != nil {
		return nil, &types.ProtocolError{
			Code:    res.msg.Error.Code,
			Message: res.msg.Error.Message,
			Data:    res.msg.Error.Data,
		}
	}
	return res.msg.Result, nil
}

// Notify writes a message without an id. It never waits for a reply.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	payload, err := encode(nil, method, params)
	if err != nil {
		return err
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return types.ErrNotConnected
	}
	if err := t.Send(ctx, payload); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", method, err)
	}
	return nil
}

// OnNotification registers h. Handlers run in registration order on the
// read loop goroutine, so they must not call back into Call.
func (s *Session) OnNotification(h NotificationHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Disconnect fails all pending calls with ErrNotConnected and closes the
// transport. It is idempotent and safe on a session that never connected.
func (s *Session) Disconnect() error {
	return s.teardown(types.ErrNotConnected)
}

// Pending returns the number of outstanding calls.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// release removes the pending slot for key and reports whether this caller
// was the one to remove it.
func (s *Session) release(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; !ok {
		return false
	}
	delete(s.pending, key)
	return true
}

func (s *Session) teardown(cause error) error {
	s.mu.Lock()
	t, done := s.transport, s.done
	if t == nil {
		s.mu.Unlock()
		return nil
	}
	s.transport = nil
	s.done = nil
	pending := s.pending
	s.pending = make(map[string]*pendingCall)
	s.mu.Unlock()

	for _, pc := range pending {
		pc.result <- callResult{err: cause}
	}
	close(done)
	if err := t.Close(); err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

func (s *Session) readLoop(t transport.Transport, done chan struct{}) {
	for {
		frame, err := t.Receive()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			reason := "stream closed"
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			s.logger.Printf("rpc: read loop stopped: %s", reason)
			s.teardownIfCurrent(t, &types.ConnectionFailedError{Reason: reason, Err: err})
			return
		}

		var msg types.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.logger.Printf("rpc: malformed inbound frame: %v", err)
			s.teardownIfCurrent(t, &types.ConnectionFailedError{Reason: "malformed message from provider", Err: err})
			return
		}
		s.dispatch(t, &msg)
	}
}

// teardownIfCurrent avoids tearing down a newer connection when an old read
// loop exits late.
func (s *Session) teardownIfCurrent(t transport.Transport, cause error) {
	s.mu.Lock()
	current := s.transport == t
	s.mu.Unlock()
	if current {
		_ = s.teardown(cause)
	}
}

func (s *Session) dispatch(t transport.Transport, msg *types.Message) {
	if msg.Method != "" {
		s.handlersMu.RLock()
		handlers := append([]NotificationHandler(nil), s.handlers...)
		s.handlersMu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}
		if msg.HasID() {
			s.replyToServerRequest(t, msg)
		}
		return
	}

	if !msg.HasID() {
		s.logger.Printf("rpc: dropping message without method or id")
		return
	}

	key := msg.IDKey()
	s.mu.Lock()
	pc, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Printf("rpc: protocol anomaly: response for unknown id %s", key)
		return
	}
	pc.result <- callResult{msg: msg}
}

// replyToServerRequest answers requests the provider sends to the client.
// Only ping is understood.
func (s *Session) replyToServerRequest(t transport.Transport, msg *types.Message) {
	resp := types.Message{JSONRPC: types.JSONRPCVersion, ID: msg.ID}
	if msg.Method == types.MethodPing {
		resp.Result = json.RawMessage(`{}`)
	} else {
		resp.Error = &types.RPCError{Code: types.CodeMethodNotFound, Message: "Method not found: " + msg.Method}
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("rpc: failed to marshal reply: %v", err)
		return
	}
	go func() {
		if err := t.Send(context.Background(), payload); err != nil {
			s.logger.Printf("rpc: failed to reply to %s: %v", msg.Method, err)
		}
	}()
}

func encode(id json.RawMessage, method string, params any) ([]byte, error) {
	msg := types.Message{JSONRPC: types.JSONRPCVersion, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		msg.Params = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	return data, nil
}
