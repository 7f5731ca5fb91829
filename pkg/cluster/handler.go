package cluster

import (
	"context"

	"github.com/google/uuid"

	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/runtime"
	"github.com/burrow-io/burrow/pkg/types"
)

// nodeHandler is the wire-facing side of a cluster node. It keeps the rpc
// surface separate from the public Runtime API on ClusterRuntime.
type nodeHandler struct {
	c *ClusterRuntime
}

func (h *nodeHandler) RegisterNode(ctx context.Context, req *rpc.RegisterNodeRequest) (*rpc.RegisterNodeResponse, error) {
	return h.c.handleRegisterNode(ctx, req)
}

func (h *nodeHandler) UnregisterNode(ctx context.Context, req *rpc.UnregisterNodeRequest) error {
	return h.c.handleUnregisterNode(ctx, req)
}

func (h *nodeHandler) Heartbeat(ctx context.Context, req *rpc.HeartbeatRequest) error {
	return h.c.handleHeartbeat(ctx, req)
}

// PlaceAgent has both directions: a coordinator receiving it treats it as a
// placement request and picks the best node; a worker receiving it hosts the
// agent.
func (h *nodeHandler) PlaceAgent(ctx context.Context, req *rpc.PlaceAgentRequest) error {
	if h.c.IsCoordinator() {
		_, err := h.c.deployBlueprint(ctx, req)
		return err
	}
	return h.c.hostAgent(ctx, req)
}

// UnplaceAgent drops a hosted agent; a coordinator routes it to the owner.
func (h *nodeHandler) UnplaceAgent(ctx context.Context, req *rpc.UnplaceAgentRequest) error {
	if h.c.IsCoordinator() {
		return h.c.UnregisterAgent(ctx, req.AgentID)
	}
	return h.c.local.UnregisterAgent(ctx, req.AgentID)
}

// notHosted guards worker-side request handling: a worker serving a
// forwarded request answers for its own agents only, it never forwards back.
// Coordinators may route, so the guard passes for them.
func (h *nodeHandler) notHosted(agentID string) error {
	if h.c.IsCoordinator() || h.c.ownsLocally(agentID) {
		return nil
	}
	return types.NewError(types.CodeNotFound, "agent %s not hosted on node %s", agentID, h.c.cfg.NodeID)
}

func (h *nodeHandler) RunAgent(ctx context.Context, req *rpc.RunAgentRequest) (*rpc.RunAgentResponse, error) {
	if err := h.notHosted(req.AgentID); err != nil {
		return nil, err
	}
	response, err := h.c.RunAgent(ctx, req.AgentID, req.Query, req.Metadata)
	if err != nil {
		return nil, err
	}
	return &rpc.RunAgentResponse{Response: response}, nil
}

func (h *nodeHandler) QueryStatus(ctx context.Context, req *rpc.QueryStatusRequest) (*rpc.QueryStatusResponse, error) {
	if err := h.notHosted(req.AgentID); err != nil {
		return nil, err
	}
	status, err := h.c.GetAgentStatus(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return &rpc.QueryStatusResponse{Status: status}, nil
}

func (h *nodeHandler) SaveState(ctx context.Context, req *rpc.AgentStateRequest) error {
	if err := h.notHosted(req.AgentID); err != nil {
		return err
	}
	return h.c.SaveAgentState(ctx, req.AgentID)
}

func (h *nodeHandler) LoadState(ctx context.Context, req *rpc.AgentStateRequest) error {
	if err := h.notHosted(req.AgentID); err != nil {
		return err
	}
	return h.c.LoadAgentState(ctx, req.AgentID)
}

func (h *nodeHandler) Recover(ctx context.Context, req *rpc.AgentStateRequest) (*rpc.RecoverResponse, error) {
	if err := h.notHosted(req.AgentID); err != nil {
		return nil, err
	}
	recovered, err := h.c.RecoverAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return &rpc.RecoverResponse{Recovered: recovered}, nil
}

// hostAgent instantiates a blueprint through the registered factory and
// registers it with the local runtime, restoring memory from the snapshot
// when one travels with the request.
func (c *ClusterRuntime) hostAgent(ctx context.Context, req *rpc.PlaceAgentRequest) error {
	factory, ok := c.factory(req.Blueprint.Type)
	if !ok {
		return types.NewError(types.CodeNotFound, "no factory registered for blueprint type %q", req.Blueprint.Type)
	}

	agent, err := factory(req.Blueprint)
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to build agent from blueprint %q", req.Blueprint.Type)
	}

	agentID, err := c.local.RegisterAgent(ctx, agent, runtime.RegisterOptions{
		AgentID: req.AgentID,
		Limits:  req.Limits,
	})
	if err != nil {
		return err
	}

	if req.Snapshot != nil {
		if mem := agent.Memory(); mem != nil && len(req.Snapshot.ConversationHistory) > 0 {
			if err := mem.Restore(req.Snapshot.ConversationHistory); err != nil {
				c.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error restoring migrated memory")
			}
		}
	}

	c.logger.Info().
		Str("agent_id", agentID).
		Str("blueprint", req.Blueprint.Type).
		Msg("Agent hosted")
	return nil
}

// deployBlueprint is the coordinator's placement path: pick the best node
// for the blueprint and place the agent there.
func (c *ClusterRuntime) deployBlueprint(ctx context.Context, req *rpc.PlaceAgentRequest) (string, error) {
	if !c.IsCoordinator() {
		return "", types.NewError(types.CodeInvalidState, "node %s is not the coordinator", c.cfg.NodeID)
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	meta := &placementMeta{blueprint: req.Blueprint, limits: req.Limits}
	if err := c.placeOnBestNode(ctx, agentID, meta, ""); err != nil {
		return "", err
	}
	return agentID, nil
}

// DeployAgent places an agent described by a blueprint onto the best
// eligible node. Workers forward the request to the coordinator.
func (c *ClusterRuntime) DeployAgent(ctx context.Context, bp types.AgentBlueprint, opts runtime.RegisterOptions) (string, error) {
	req := &rpc.PlaceAgentRequest{
		AgentID:   opts.AgentID,
		Blueprint: bp,
		Limits:    opts.Limits,
	}

	if c.IsCoordinator() {
		return c.deployBlueprint(ctx, req)
	}

	if req.AgentID == "" {
		req.AgentID = uuid.NewString()
	}
	if err := c.coordPeer.PlaceAgent(ctx, req); err != nil {
		return "", err
	}
	return req.AgentID, nil
}
