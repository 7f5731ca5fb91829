package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/burrow-io/burrow/pkg/types"
)

// InProcTransport wires nodes together inside one process. Used by the
// embedded-worker pattern and the cluster tests; no bytes hit the network.
type InProcTransport struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewInProcTransport creates an empty in-process transport.
func NewInProcTransport() *InProcTransport {
	return &InProcTransport{handlers: make(map[string]Handler)}
}

// Serve registers a handler under an endpoint name.
func (t *InProcTransport) Serve(endpoint string, handler Handler) (io.Closer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handlers[endpoint]; exists {
		return nil, types.NewError(types.CodeAlreadyExists, "endpoint %s already served", endpoint)
	}
	t.handlers[endpoint] = handler

	return closerFunc(func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, endpoint)
		return nil
	}), nil
}

// Dial returns a peer that invokes the served handler directly.
func (t *InProcTransport) Dial(endpoint string) (Peer, error) {
	return &inprocPeer{transport: t, endpoint: endpoint}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// inprocPeer resolves the handler on every call so a peer dialled before
// Serve (or across a restart) still works.
type inprocPeer struct {
	transport *InProcTransport
	endpoint  string
}

func (p *inprocPeer) handler() (Handler, error) {
	p.transport.mu.RLock()
	defer p.transport.mu.RUnlock()

	h, ok := p.transport.handlers[p.endpoint]
	if !ok {
		return nil, types.NewError(types.CodeUnavailable, "endpoint %s not reachable", p.endpoint)
	}
	return h, nil
}

func (p *inprocPeer) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	h, err := p.handler()
	if err != nil {
		return nil, err
	}
	return h.RegisterNode(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.UnregisterNode(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) Heartbeat(ctx context.Context, req *HeartbeatRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.Heartbeat(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) PlaceAgent(ctx context.Context, req *PlaceAgentRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.PlaceAgent(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) UnplaceAgent(ctx context.Context, req *UnplaceAgentRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.UnplaceAgent(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error) {
	h, err := p.handler()
	if err != nil {
		return nil, err
	}
	return h.RunAgent(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) QueryStatus(ctx context.Context, req *QueryStatusRequest) (*QueryStatusResponse, error) {
	h, err := p.handler()
	if err != nil {
		return nil, err
	}
	return h.QueryStatus(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) SaveState(ctx context.Context, req *AgentStateRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.SaveState(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) LoadState(ctx context.Context, req *AgentStateRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.LoadState(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) Recover(ctx context.Context, req *AgentStateRequest) (*RecoverResponse, error) {
	h, err := p.handler()
	if err != nil {
		return nil, err
	}
	return h.Recover(WithCorrelationID(ctx), req)
}

func (p *inprocPeer) Close() error {
	return nil
}
