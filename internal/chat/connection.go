// Package chat wires a tool provider connection, the command router and
// the agent into the session a front end talks to.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takashabe/mcp-chat/internal/config"
	"github.com/takashabe/mcp-chat/internal/mcp"
	"github.com/takashabe/mcp-chat/internal/registry"
	"github.com/takashabe/mcp-chat/internal/router"
	"github.com/takashabe/mcp-chat/internal/rpc"
	"github.com/takashabe/mcp-chat/internal/transport"
	"github.com/takashabe/mcp-chat/pkg/types"
)

type Logger interface {
	Printf(format string, v ...any)
}

// Connection is a live, initialized provider with its tool registry.
type Connection struct {
	// Provider is the configured server name.
	Provider string
	// Umbrella is the provider's umbrella tool, empty when it has none.
	Umbrella string
	Info     *types.InitializeResult

	session  *rpc.Session
	client   *mcp.Client
	registry *registry.Registry
	logger   Logger
	timeout  time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	refreshing atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

type options struct {
	logger Logger
}

type Option func(*options)

func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// Launch starts the server's command and dials it over its stdio.
func Launch(ctx context.Context, name string, srv config.Server, opts ...Option) (*Connection, error) {
	t, err := transport.StartCommand(ctx, srv.Command, srv.Args, srv.Env)
	if err != nil {
		return nil, &types.ConnectionFailedError{Reason: err.Error(), Err: err}
	}
	conn, err := Dial(ctx, name, srv, t, opts...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return conn, nil
}

// Dial connects over t, performs the initialize handshake and loads the
// tool list. The connection refreshes its tools whenever the provider
// announces that the list changed.
func Dial(ctx context.Context, name string, srv config.Server, t transport.Transport, opts ...Option) (*Connection, error) {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	session := rpc.NewSession(rpc.WithLogger(o.logger))
	if err := session.Connect(t); err != nil {
		return nil, err
	}
	client := mcp.NewClient(session, srv.Timeout())

	c := &Connection{
		Provider: name,
		session:  session,
		client:   client,
		registry: registry.New(client, registry.WithLogger(o.logger)),
		logger:   o.logger,
		timeout:  srv.Timeout(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	session.OnNotification(c.onNotification)

	info, err := client.Initialize(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Info = info

	tools, err := c.registry.Refresh(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Umbrella = srv.Umbrella
	if c.Umbrella == "" {
		if _, ok := c.registry.Find(name); ok {
			c.Umbrella = name
		}
	}
	c.logger.Printf("Connected to %s (%s %s) with %d tools", name, info.ServerInfo.Name, info.ServerInfo.Version, len(tools))
	return c, nil
}

func (c *Connection) Registry() *registry.Registry {
	return c.registry
}

// Refresh reloads the tool list.
func (c *Connection) Refresh(ctx context.Context) ([]registry.Tool, error) {
	return c.registry.Refresh(ctx)
}

// RouterContext describes the provider to the command router.
func (c *Connection) RouterContext() router.Context {
	rc := router.Context{
		Provider: c.Provider,
		Umbrella: c.Umbrella,
		Tools:    c.registry.Names(),
	}
	if c.Umbrella != "" {
		rc.MetaCommands = c.registry.MetaCommands(c.Umbrella)
	}
	return rc
}

// onNotification runs on the session's read loop, so the refresh it
// triggers has to run elsewhere.
func (c *Connection) onNotification(msg *types.Message) {
	if msg.Method != types.MethodToolsListChanged {
		return
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		ctx := c.ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		tools, err := c.registry.Refresh(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Printf("Tool list refresh failed: %v", err)
			}
			return
		}
		c.logger.Printf("Tool list changed, %d tools registered", len(tools))
	}()
}

// Close disconnects the session and closes the transport.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.session.Disconnect(); err != nil {
			c.closeErr = fmt.Errorf("failed to disconnect from %s: %w", c.Provider, err)
		}
	})
	return c.closeErr
}
