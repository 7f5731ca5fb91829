package cluster

import (
	"context"

	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/runtime"
	"github.com/burrow-io/burrow/pkg/types"
)

// ownsLocally reports whether the embedded local runtime hosts the agent.
func (c *ClusterRuntime) ownsLocally(agentID string) bool {
	_, err := c.local.GetAgentStatus(context.Background(), agentID)
	return err == nil
}

// ownerPeer resolves the peer hosting an agent. Coordinator side only.
func (c *ClusterRuntime) ownerPeer(agentID string) (rpc.Peer, string, error) {
	c.mu.RLock()
	nodeID, placed := c.placements[agentID]
	_, quarantined := c.quarantine[agentID]
	var node *types.NodeInfo
	if placed {
		if n, ok := c.nodes[nodeID]; ok {
			copied := *n
			node = &copied
		}
	}
	c.mu.RUnlock()

	if quarantined {
		return nil, "", types.NewError(types.CodeUnavailable, "agent %s awaiting placement", agentID)
	}
	if !placed {
		return nil, "", types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	if node == nil {
		return nil, nodeID, types.NewError(types.CodeUnavailable, "node %s not in roster", nodeID)
	}
	if node.Status != types.NodeOnline {
		return nil, nodeID, types.NewError(types.CodeUnavailable, "node %s is %s", nodeID, node.Status)
	}

	peer, err := c.peer(nodeID, node.Endpoint)
	if err != nil {
		return nil, nodeID, err
	}
	return peer, nodeID, nil
}

// RegisterAgent hosts a live agent on this node. Coordinators record the
// placement immediately; workers propagate ownership through the next
// heartbeat.
func (c *ClusterRuntime) RegisterAgent(ctx context.Context, agent types.Agent, opts runtime.RegisterOptions) (string, error) {
	agentID, err := c.local.RegisterAgent(ctx, agent, opts)
	if err != nil {
		return "", err
	}

	if c.IsCoordinator() {
		c.mu.Lock()
		c.placements[agentID] = c.cfg.NodeID
		c.mu.Unlock()
	}
	return agentID, nil
}

// UnregisterAgent removes an agent wherever it is hosted.
func (c *ClusterRuntime) UnregisterAgent(ctx context.Context, agentID string) error {
	if c.ownsLocally(agentID) {
		if err := c.local.UnregisterAgent(ctx, agentID); err != nil {
			return err
		}
		if c.IsCoordinator() {
			c.mu.Lock()
			delete(c.placements, agentID)
			delete(c.meta, agentID)
			c.mu.Unlock()
		}
		return nil
	}

	if c.IsCoordinator() {
		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			return err
		}
		if err := peer.UnplaceAgent(ctx, &rpc.UnplaceAgentRequest{AgentID: agentID}); err != nil {
			return types.FromNode(nodeID, err)
		}

		c.mu.Lock()
		delete(c.placements, agentID)
		delete(c.meta, agentID)
		c.mu.Unlock()
		return nil
	}

	return c.coordPeer.UnplaceAgent(ctx, &rpc.UnplaceAgentRequest{AgentID: agentID})
}

// GetAgentStatus answers locally when possible and routes otherwise. Agents
// on offline nodes and quarantined agents report UNKNOWN.
func (c *ClusterRuntime) GetAgentStatus(ctx context.Context, agentID string) (types.AgentStatus, error) {
	if status, err := c.local.GetAgentStatus(ctx, agentID); err == nil {
		return status, nil
	}

	if c.IsCoordinator() {
		c.mu.RLock()
		_, quarantined := c.quarantine[agentID]
		c.mu.RUnlock()
		if quarantined {
			return types.AgentUnknown, nil
		}

		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			if types.IsCode(err, types.CodeUnavailable) {
				return types.AgentUnknown, nil
			}
			return "", err
		}

		resp, err := peer.QueryStatus(ctx, &rpc.QueryStatusRequest{AgentID: agentID})
		if err != nil {
			return "", types.FromNode(nodeID, err)
		}
		return resp.Status, nil
	}

	resp, err := c.coordPeer.QueryStatus(ctx, &rpc.QueryStatusRequest{AgentID: agentID})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// RunAgent dispatches a query to the node hosting the agent.
func (c *ClusterRuntime) RunAgent(ctx context.Context, agentID, query string, metadata map[string]any) (string, error) {
	if c.Status() != types.RuntimeRunning {
		return "", types.NewError(types.CodeInvalidState, "cannot run agent in runtime state %s", c.Status())
	}

	if c.ownsLocally(agentID) {
		return c.local.RunAgent(ctx, agentID, query, metadata)
	}

	req := &rpc.RunAgentRequest{AgentID: agentID, Query: query, Metadata: metadata}

	if c.IsCoordinator() {
		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			return "", err
		}
		resp, err := peer.RunAgent(ctx, req)
		if err != nil {
			return "", types.FromNode(nodeID, err)
		}
		return resp.Response, nil
	}

	resp, err := c.coordPeer.RunAgent(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// SaveAgentState snapshots an agent wherever it is hosted.
func (c *ClusterRuntime) SaveAgentState(ctx context.Context, agentID string) error {
	if c.ownsLocally(agentID) {
		return c.local.SaveAgentState(ctx, agentID)
	}

	req := &rpc.AgentStateRequest{AgentID: agentID}
	if c.IsCoordinator() {
		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			return err
		}
		return types.FromNode(nodeID, peer.SaveState(ctx, req))
	}
	return c.coordPeer.SaveState(ctx, req)
}

// LoadAgentState restores an agent wherever it is hosted.
func (c *ClusterRuntime) LoadAgentState(ctx context.Context, agentID string) error {
	if c.ownsLocally(agentID) {
		return c.local.LoadAgentState(ctx, agentID)
	}

	req := &rpc.AgentStateRequest{AgentID: agentID}
	if c.IsCoordinator() {
		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			return err
		}
		return types.FromNode(nodeID, peer.LoadState(ctx, req))
	}
	return c.coordPeer.LoadState(ctx, req)
}

// GetResourceUsage reports usage for locally hosted agents. Per-agent usage
// does not travel over the wire; remote callers read node-level snapshots
// from heartbeats instead.
func (c *ClusterRuntime) GetResourceUsage(ctx context.Context, agentID string) (types.ResourceUsage, error) {
	if c.ownsLocally(agentID) {
		return c.local.GetResourceUsage(ctx, agentID)
	}
	return types.ResourceUsage{}, types.NewError(types.CodeNotFound, "agent %s not hosted on this node", agentID)
}

// CheckHealth grades locally hosted agents.
func (c *ClusterRuntime) CheckHealth(ctx context.Context, agentID string) (types.HealthCheckResult, error) {
	if c.ownsLocally(agentID) {
		return c.local.CheckHealth(ctx, agentID)
	}
	return types.HealthCheckResult{}, types.NewError(types.CodeNotFound, "agent %s not hosted on this node", agentID)
}

// RecoverAgent recovers an agent wherever it is hosted.
func (c *ClusterRuntime) RecoverAgent(ctx context.Context, agentID string) (bool, error) {
	if c.ownsLocally(agentID) {
		return c.local.RecoverAgent(ctx, agentID)
	}

	req := &rpc.AgentStateRequest{AgentID: agentID}
	if c.IsCoordinator() {
		peer, nodeID, err := c.ownerPeer(agentID)
		if err != nil {
			return false, err
		}
		resp, err := peer.Recover(ctx, req)
		if err != nil {
			return false, types.FromNode(nodeID, err)
		}
		return resp.Recovered, nil
	}

	resp, err := c.coordPeer.Recover(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Recovered, nil
}
