package rpc

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Handler is the server side of the inter-node protocol. Both coordinator
// and worker nodes implement it.
type Handler interface {
	RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error)
	UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) error
	Heartbeat(ctx context.Context, req *HeartbeatRequest) error
	PlaceAgent(ctx context.Context, req *PlaceAgentRequest) error
	UnplaceAgent(ctx context.Context, req *UnplaceAgentRequest) error
	RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error)
	QueryStatus(ctx context.Context, req *QueryStatusRequest) (*QueryStatusResponse, error)
	SaveState(ctx context.Context, req *AgentStateRequest) error
	LoadState(ctx context.Context, req *AgentStateRequest) error
	Recover(ctx context.Context, req *AgentStateRequest) (*RecoverResponse, error)
}

// Peer is the client side of the protocol: the same operations as Handler
// plus connection lifecycle.
type Peer interface {
	Handler
	Close() error
}

// Transport resolves endpoints to peers and serves handlers. Every call
// carries a correlation id and honours the caller's context deadline.
type Transport interface {
	Dial(endpoint string) (Peer, error)
	Serve(endpoint string, handler Handler) (io.Closer, error)
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id to ctx, generating one if
// absent.
func WithCorrelationID(ctx context.Context) context.Context {
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, uuid.NewString())
}

// CorrelationID returns the correlation id riding on ctx, or empty.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// withCorrelation attaches an existing correlation id to ctx.
func withCorrelation(ctx context.Context, id string) context.Context {
	if id == "" {
		return WithCorrelationID(ctx)
	}
	return context.WithValue(ctx, correlationKey{}, id)
}
