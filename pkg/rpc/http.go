package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/types"
)

const (
	rpcPathPrefix       = "/rpc/v1/"
	headerCorrelationID = "X-Burrow-Correlation-Id"
	headerDeadline      = "X-Burrow-Deadline"
)

// HTTPTransport speaks the inter-node protocol as JSON over HTTP. One POST
// route per message; correlation id and deadline travel as headers.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTP transport with a shared client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

// Dial returns a peer that POSTs to the endpoint's rpc routes.
func (t *HTTPTransport) Dial(endpoint string) (Peer, error) {
	return &httpPeer{client: t.client, base: "http://" + endpoint + rpcPathPrefix}, nil
}

// Serve listens on the endpoint address and dispatches rpc routes to the
// handler. The returned closer shuts the listener down.
func (t *HTTPTransport) Serve(endpoint string, handler Handler) (io.Closer, error) {
	mux := http.NewServeMux()
	registerRoutes(mux, handler)

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}

	server := &http.Server{Handler: mux}
	logger := log.WithComponent("rpc-server")

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("RPC server stopped")
		}
	}()

	return closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}), nil
}

// serverCtx applies the correlation id and deadline headers to the request
// context.
func serverCtx(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := withCorrelation(r.Context(), r.Header.Get(headerCorrelationID))

	if raw := r.Header.Get(headerDeadline); raw != "" {
		if deadline, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return context.WithDeadline(ctx, deadline)
		}
	}
	return ctx, func() {}
}

// handle wraps one rpc method: decode request, invoke, encode response or
// wire error.
func handle[Req any, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeWireError(w, http.StatusBadRequest, wireError(types.NewError(types.CodeInternal, "malformed request: %v", err)))
			return
		}

		ctx, cancel := serverCtx(r)
		defer cancel()

		resp, err := fn(ctx, &req)
		if err != nil {
			writeWireError(w, statusFor(types.CodeOf(err)), wireError(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// empty is the response body of methods that return no payload.
type empty struct{}

func registerRoutes(mux *http.ServeMux, h Handler) {
	mux.HandleFunc(rpcPathPrefix+"register_node", handle(h.RegisterNode))
	mux.HandleFunc(rpcPathPrefix+"unregister_node", handle(func(ctx context.Context, req *UnregisterNodeRequest) (*empty, error) {
		return &empty{}, h.UnregisterNode(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"heartbeat", handle(func(ctx context.Context, req *HeartbeatRequest) (*empty, error) {
		return &empty{}, h.Heartbeat(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"place_agent", handle(func(ctx context.Context, req *PlaceAgentRequest) (*empty, error) {
		return &empty{}, h.PlaceAgent(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"unplace_agent", handle(func(ctx context.Context, req *UnplaceAgentRequest) (*empty, error) {
		return &empty{}, h.UnplaceAgent(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"run_agent", handle(h.RunAgent))
	mux.HandleFunc(rpcPathPrefix+"query_status", handle(h.QueryStatus))
	mux.HandleFunc(rpcPathPrefix+"save_state", handle(func(ctx context.Context, req *AgentStateRequest) (*empty, error) {
		return &empty{}, h.SaveState(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"load_state", handle(func(ctx context.Context, req *AgentStateRequest) (*empty, error) {
		return &empty{}, h.LoadState(ctx, req)
	}))
	mux.HandleFunc(rpcPathPrefix+"recover", handle(h.Recover))
}

func writeWireError(w http.ResponseWriter, status int, werr *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(werr)
}

// statusFor maps taxonomy codes onto HTTP statuses.
func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeAlreadyExists:
		return http.StatusConflict
	case types.CodeInvalidState:
		return http.StatusConflict
	case types.CodeResourceConstraint:
		return http.StatusTooManyRequests
	case types.CodeTimeout:
		return http.StatusGatewayTimeout
	case types.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// httpPeer POSTs rpc messages to a remote node.
type httpPeer struct {
	client *http.Client
	base   string
}

func (p *httpPeer) call(ctx context.Context, method string, in any, out any) error {
	ctx = WithCorrelationID(ctx)

	body, err := json.Marshal(in)
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to encode %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+method, bytes.NewReader(body))
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerCorrelationID, CorrelationID(ctx))
	if deadline, ok := ctx.Deadline(); ok {
		req.Header.Set(headerDeadline, deadline.Format(time.RFC3339Nano))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.WrapError(types.CodeTimeout, err, "%s call deadline exceeded", method)
		}
		return types.WrapError(types.CodeUnavailable, err, "%s call failed", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var werr Error
		if err := json.NewDecoder(resp.Body).Decode(&werr); err != nil {
			return types.NewError(types.CodeInternal, "%s call failed with status %d", method, resp.StatusCode)
		}
		return werr.toError()
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to decode %s response", method)
	}
	return nil
}

func (p *httpPeer) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	var resp RegisterNodeResponse
	if err := p.call(ctx, "register_node", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *httpPeer) UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) error {
	return p.call(ctx, "unregister_node", req, nil)
}

func (p *httpPeer) Heartbeat(ctx context.Context, req *HeartbeatRequest) error {
	return p.call(ctx, "heartbeat", req, nil)
}

func (p *httpPeer) PlaceAgent(ctx context.Context, req *PlaceAgentRequest) error {
	return p.call(ctx, "place_agent", req, nil)
}

func (p *httpPeer) UnplaceAgent(ctx context.Context, req *UnplaceAgentRequest) error {
	return p.call(ctx, "unplace_agent", req, nil)
}

func (p *httpPeer) RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error) {
	var resp RunAgentResponse
	if err := p.call(ctx, "run_agent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *httpPeer) QueryStatus(ctx context.Context, req *QueryStatusRequest) (*QueryStatusResponse, error) {
	var resp QueryStatusResponse
	if err := p.call(ctx, "query_status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *httpPeer) SaveState(ctx context.Context, req *AgentStateRequest) error {
	return p.call(ctx, "save_state", req, nil)
}

func (p *httpPeer) LoadState(ctx context.Context, req *AgentStateRequest) error {
	return p.call(ctx, "load_state", req, nil)
}

func (p *httpPeer) Recover(ctx context.Context, req *AgentStateRequest) (*RecoverResponse, error) {
	var resp RecoverResponse
	if err := p.call(ctx, "recover", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *httpPeer) Close() error {
	return nil
}
