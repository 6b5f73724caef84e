package mcptest

import (
	"context"

	"github.com/takashabe/mcp-chat/internal/rpc"
	"github.com/takashabe/mcp-chat/internal/transport"
)

// Dial connects a new session to s over an in-memory pipe. The provider
// side is closed when ctx is done.
func Dial(ctx context.Context, s *Server, opts ...rpc.Option) (*rpc.Session, error) {
	client, server := transport.Pipe()
	s.Start(ctx, server)

	session := rpc.NewSession(opts...)
	if err := session.Connect(client); err != nil {
		return nil, err
	}
	return session, nil
}
