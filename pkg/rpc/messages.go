package rpc

import (
	"errors"
	"time"

	"github.com/burrow-io/burrow/pkg/types"
)

// RegisterNodeRequest announces a worker to the coordinator.
type RegisterNodeRequest struct {
	Node types.NodeInfo `json:"node"`
}

// RegisterNodeResponse acknowledges a node registration.
type RegisterNodeResponse struct {
	CoordinatorID string `json:"coordinator_id"`
}

// UnregisterNodeRequest removes a worker from the roster on graceful stop.
type UnregisterNodeRequest struct {
	NodeID string `json:"node_id"`
}

// HeartbeatRequest is the worker's periodic liveness signal.
type HeartbeatRequest struct {
	NodeID    string              `json:"node_id"`
	Timestamp time.Time           `json:"timestamp"`
	Resources types.NodeResources `json:"resources"`
	AgentIDs  []string            `json:"agent_ids"`
}

// PlaceAgentRequest asks a node to host an agent. Snapshot carries the
// restored state during migration; nil places a fresh agent.
type PlaceAgentRequest struct {
	AgentID   string                `json:"agent_id"`
	Blueprint types.AgentBlueprint  `json:"blueprint"`
	Limits    *types.ResourceLimits `json:"limits,omitempty"`
	Snapshot  *types.AgentState     `json:"snapshot,omitempty"`
}

// UnplaceAgentRequest asks a node to drop a hosted agent.
type UnplaceAgentRequest struct {
	AgentID string `json:"agent_id"`
}

// RunAgentRequest dispatches a query to an agent on a remote node.
type RunAgentRequest struct {
	AgentID  string         `json:"agent_id"`
	Query    string         `json:"query"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunAgentResponse carries the agent's text response.
type RunAgentResponse struct {
	Response string `json:"response"`
}

// QueryStatusRequest asks for an agent's lifecycle status.
type QueryStatusRequest struct {
	AgentID string `json:"agent_id"`
}

// QueryStatusResponse carries the status.
type QueryStatusResponse struct {
	Status types.AgentStatus `json:"status"`
}

// AgentStateRequest addresses an agent for save/load/recover operations.
type AgentStateRequest struct {
	AgentID string `json:"agent_id"`
}

// RecoverResponse reports whether recovery succeeded.
type RecoverResponse struct {
	Recovered bool `json:"recovered"`
}

// Error is the wire form of a structured runtime error.
type Error struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	NodeID  string          `json:"node_id,omitempty"`
}

// toError converts a wire error back into the taxonomy.
func (e *Error) toError() error {
	if e == nil {
		return nil
	}
	return &types.Error{Code: e.Code, Message: e.Message, NodeID: e.NodeID}
}

// wireError converts a runtime error into its wire form.
func wireError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return &Error{Code: te.Code, Message: te.Message, NodeID: te.NodeID}
	}
	return &Error{Code: types.CodeOf(err), Message: err.Error()}
}
