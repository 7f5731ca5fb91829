package cluster

import (
	"context"
	"time"

	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/types"
)

// RegisterNode adds a worker to the roster. Coordinator only.
func (c *ClusterRuntime) handleRegisterNode(ctx context.Context, req *rpc.RegisterNodeRequest) (*rpc.RegisterNodeResponse, error) {
	if !c.IsCoordinator() {
		return nil, types.NewError(types.CodeInvalidState, "node %s is not the coordinator", c.cfg.NodeID)
	}

	node := req.Node
	node.Status = types.NodeOnline
	node.LastHeartbeat = c.now()

	c.mu.Lock()
	c.nodes[node.NodeID] = &node
	c.mu.Unlock()

	c.logger.Info().
		Str("worker_id", node.NodeID).
		Str("endpoint", node.Endpoint).
		Msg("Node registered")

	return &rpc.RegisterNodeResponse{CoordinatorID: c.cfg.NodeID}, nil
}

// UnregisterNode removes a worker from the roster on graceful stop and
// re-places its agents.
func (c *ClusterRuntime) handleUnregisterNode(ctx context.Context, req *rpc.UnregisterNodeRequest) error {
	if !c.IsCoordinator() {
		return types.NewError(types.CodeInvalidState, "node %s is not the coordinator", c.cfg.NodeID)
	}

	c.mu.Lock()
	delete(c.nodes, req.NodeID)
	agentIDs := c.agentsOnNodeLocked(req.NodeID)
	c.mu.Unlock()

	c.logger.Info().Str("worker_id", req.NodeID).Msg("Node unregistered")

	for _, agentID := range agentIDs {
		if err := c.migrateAgent(ctx, agentID, req.NodeID, "node_shutdown"); err != nil {
			c.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error migrating agent off drained node")
		}
	}
	return nil
}

// Heartbeat records a worker's liveness signal. Only the heartbeat with the
// latest timestamp wins; reordered older arrivals are ignored. The agent
// list reconciles the placement table for eventually-consistent ownership.
func (c *ClusterRuntime) handleHeartbeat(ctx context.Context, req *rpc.HeartbeatRequest) error {
	if !c.IsCoordinator() {
		return types.NewError(types.CodeInvalidState, "node %s is not the coordinator", c.cfg.NodeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[req.NodeID]
	if !ok {
		return types.NewError(types.CodeNotFound, "node %s not registered", req.NodeID)
	}

	if !req.Timestamp.After(node.LastHeartbeat) {
		return nil
	}

	node.LastHeartbeat = req.Timestamp
	node.Resources = req.Resources
	node.AgentIDs = req.AgentIDs
	if node.Status == types.NodeOffline {
		c.logger.Info().Str("worker_id", req.NodeID).Msg("Node back online")
	}
	node.Status = types.NodeOnline

	reported := make(map[string]bool, len(req.AgentIDs))
	for _, agentID := range req.AgentIDs {
		reported[agentID] = true
		if _, placed := c.placements[agentID]; !placed {
			c.placements[agentID] = req.NodeID
		}
	}
	for agentID, nodeID := range c.placements {
		if nodeID == req.NodeID && !reported[agentID] {
			delete(c.placements, agentID)
			delete(c.meta, agentID)
		}
	}

	return nil
}

// agentsOnNodeLocked lists agents placed on a node. Caller holds the lock.
func (c *ClusterRuntime) agentsOnNodeLocked(nodeID string) []string {
	var out []string
	for agentID, placed := range c.placements {
		if placed == nodeID {
			out = append(out, agentID)
		}
	}
	return out
}

// nodeMonitorLoop flags nodes whose heartbeat went stale as OFFLINE,
// migrates their agents, and retries quarantined agents every tick.
func (c *ClusterRuntime) nodeMonitorLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.NodeCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkNodes()
			c.retryQuarantine()
		case <-c.stopCh:
			return
		}
	}
}

// checkNodes marks nodes offline when now - last_heartbeat exceeds the
// heartbeat timeout. A heartbeat exactly at the timeout is still online.
func (c *ClusterRuntime) checkNodes() {
	now := c.now()

	c.mu.Lock()
	var failed []string
	for nodeID, node := range c.nodes {
		if nodeID == c.cfg.NodeID {
			continue
		}
		if node.Status == types.NodeOnline && now.Sub(node.LastHeartbeat) > c.cfg.HeartbeatTimeout {
			node.Status = types.NodeOffline
			failed = append(failed, nodeID)
		}
	}
	c.mu.Unlock()

	ctx := context.Background()
	for _, nodeID := range failed {
		c.logger.Warn().Str("worker_id", nodeID).Msg("Node missed heartbeat, marking offline")
		c.handleNodeFailure(ctx, nodeID)
	}
}

// handleNodeFailure migrates every agent placed on a failed node.
func (c *ClusterRuntime) handleNodeFailure(ctx context.Context, nodeID string) {
	c.mu.RLock()
	agentIDs := c.agentsOnNodeLocked(nodeID)
	c.mu.RUnlock()

	c.logger.Info().
		Str("worker_id", nodeID).
		Int("agents", len(agentIDs)).
		Msg("Handling node failure")

	for _, agentID := range agentIDs {
		if err := c.migrateAgent(ctx, agentID, nodeID, "node_failure"); err != nil {
			c.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error migrating agent")
		}
	}
}

// migrateAgent moves an agent off a lost node: select a target, restore the
// last persisted snapshot, update the placement table, then place the agent.
// The placement table is updated before the agent starts on the new node so
// the state files stay single-writer. Agents with no viable target are
// quarantined and retried every node-check tick; agents with no known
// blueprint are quarantined and not retried.
func (c *ClusterRuntime) migrateAgent(ctx context.Context, agentID, fromNodeID, reason string) error {
	c.mu.Lock()
	meta := c.meta[agentID]
	delete(c.placements, agentID)
	c.mu.Unlock()

	if meta == nil {
		c.logger.Warn().Str("agent_id", agentID).Msg("No blueprint known for agent, quarantining")
		c.quarantineAgent(agentID, &placementMeta{})
		return nil
	}

	if err := c.placeOnBestNode(ctx, agentID, meta, fromNodeID); err != nil {
		c.quarantineAgent(agentID, meta)
		return err
	}

	c.logger.Info().
		Str("agent_id", agentID).
		Str("from_node", fromNodeID).
		Str("reason", reason).
		Msg("Agent migrated")
	metrics.RecordMigration(reason)
	return nil
}

// placeOnBestNode selects a node, loads the agent's snapshot, commits the
// placement, and asks the target to host the agent. Failures roll the
// placement back.
func (c *ClusterRuntime) placeOnBestNode(ctx context.Context, agentID string, meta *placementMeta, excludeNodeID string) error {
	c.mu.RLock()
	candidates := make([]*types.NodeInfo, 0, len(c.nodes))
	for nodeID, node := range c.nodes {
		if nodeID == excludeNodeID {
			continue
		}
		copied := *node
		candidates = append(candidates, &copied)
	}
	c.mu.RUnlock()

	targetID, err := SelectNode(candidates, meta.limits)
	if err != nil {
		return err
	}

	var snapshot *types.AgentState
	if provider := c.cfg.Local.StateProvider; provider != nil {
		snapshot, err = provider.Load(ctx, agentID)
		if err != nil {
			c.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error loading snapshot for migration")
		}
	}

	c.mu.Lock()
	var endpoint string
	if node, ok := c.nodes[targetID]; ok {
		endpoint = node.Endpoint
	}
	c.placements[agentID] = targetID
	c.meta[agentID] = meta
	c.mu.Unlock()

	req := &rpc.PlaceAgentRequest{
		AgentID:   agentID,
		Blueprint: meta.blueprint,
		Limits:    meta.limits,
		Snapshot:  snapshot,
	}

	if targetID == c.cfg.NodeID {
		err = c.hostAgent(ctx, req)
	} else {
		var peer rpc.Peer
		peer, err = c.peer(targetID, endpoint)
		if err == nil {
			err = peer.PlaceAgent(ctx, req)
			err = types.FromNode(targetID, err)
		}
	}

	if err != nil {
		c.mu.Lock()
		delete(c.placements, agentID)
		c.mu.Unlock()
		return err
	}
	return nil
}

// quarantineAgent parks an unplaceable agent; its status reads UNKNOWN until
// a node becomes eligible.
func (c *ClusterRuntime) quarantineAgent(agentID string, meta *placementMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quarantine[agentID] = meta
	delete(c.placements, agentID)
}

// retryQuarantine attempts to place quarantined agents again.
func (c *ClusterRuntime) retryQuarantine() {
	c.mu.RLock()
	pending := make(map[string]*placementMeta, len(c.quarantine))
	for agentID, meta := range c.quarantine {
		pending[agentID] = meta
	}
	c.mu.RUnlock()

	ctx := context.Background()
	for agentID, meta := range pending {
		if meta.blueprint.Type == "" {
			continue
		}
		if err := c.placeOnBestNode(ctx, agentID, meta, ""); err != nil {
			continue
		}

		c.mu.Lock()
		delete(c.quarantine, agentID)
		c.mu.Unlock()

		c.logger.Info().Str("agent_id", agentID).Msg("Quarantined agent placed")
		metrics.RecordMigration("quarantine_retry")
	}
}
