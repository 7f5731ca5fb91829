package cluster

import (
	"context"
	"time"

	"github.com/burrow-io/burrow/pkg/rpc"
)

// heartbeatLoop sends periodic heartbeats to the coordinator carrying the
// node's resource snapshot and hosted agent ids. Failures are logged and
// retried on the next tick.
func (c *ClusterRuntime) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// sendHeartbeat emits one heartbeat.
func (c *ClusterRuntime) sendHeartbeat() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.coordPeer.Heartbeat(ctx, &rpc.HeartbeatRequest{
		NodeID:    c.cfg.NodeID,
		Timestamp: c.now(),
		Resources: c.nodeResources(),
		AgentIDs:  c.local.AgentIDs(),
	})
}
