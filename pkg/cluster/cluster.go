package cluster

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/runtime"
	"github.com/burrow-io/burrow/pkg/types"
)

// Role designates a node as coordinator or worker, chosen at construction.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
)

// AgentFactory builds a live agent from a blueprint. Nodes register one
// factory per blueprint type.
type AgentFactory func(bp types.AgentBlueprint) (types.Agent, error)

// Config holds the tunables of a cluster node.
type Config struct {
	// Local configures the embedded local runtime for on-node execution.
	Local runtime.Config

	NodeID   string
	NodeName string
	// Endpoint is the address this node serves the inter-node protocol on.
	Endpoint string
	Role     Role
	// CoordinatorEndpoint is required for workers.
	CoordinatorEndpoint string

	// Transport carries the inter-node protocol.
	Transport rpc.Transport

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	NodeCheckInterval time.Duration

	// Resources is the capacity this node advertises for placement.
	Resources types.NodeResources
}

var _ runtime.Runtime = (*ClusterRuntime)(nil)

// placementMeta is what the coordinator needs to re-place an agent after a
// node failure.
type placementMeta struct {
	blueprint types.AgentBlueprint
	limits    *types.ResourceLimits
}

// ClusterRuntime distributes agents across a set of cooperating nodes. Every
// node wraps a local runtime for on-node execution; the coordinator
// additionally owns the node roster and the placement table.
type ClusterRuntime struct {
	cfg   Config
	local *runtime.LocalRuntime

	statusMu sync.RWMutex
	status   types.RuntimeStatus

	factoriesMu sync.RWMutex
	factories   map[string]AgentFactory

	// Coordinator-owned state: roster, placement table, quarantine.
	// All mutations are serialised behind mu.
	mu         sync.RWMutex
	nodes      map[string]*types.NodeInfo
	placements map[string]string
	meta       map[string]*placementMeta
	quarantine map[string]*placementMeta

	peersMu sync.Mutex
	peers   map[string]rpc.Peer

	coordPeer rpc.Peer
	server    io.Closer

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates a cluster node. Call Start to join the cluster.
func New(cfg Config) (*ClusterRuntime, error) {
	if cfg.Transport == nil {
		return nil, types.NewError(types.CodeInvalidState, "transport is required")
	}
	if cfg.Role == RoleWorker && cfg.CoordinatorEndpoint == "" {
		return nil, types.NewError(types.CodeInvalidState, "coordinator endpoint required for worker nodes")
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.NodeName == "" {
		cfg.NodeName = cfg.NodeID
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.NodeCheckInterval == 0 {
		cfg.NodeCheckInterval = 10 * time.Second
	}

	return &ClusterRuntime{
		cfg:        cfg,
		local:      runtime.NewLocalRuntime(cfg.Local),
		status:     types.RuntimeInitializing,
		factories:  make(map[string]AgentFactory),
		nodes:      make(map[string]*types.NodeInfo),
		placements: make(map[string]string),
		meta:       make(map[string]*placementMeta),
		quarantine: make(map[string]*placementMeta),
		peers:      make(map[string]rpc.Peer),
		logger:     log.WithNodeID(cfg.NodeID),
		now:        time.Now,
	}, nil
}

// NodeID returns this node's id.
func (c *ClusterRuntime) NodeID() string {
	return c.cfg.NodeID
}

// IsCoordinator reports whether this node owns the roster.
func (c *ClusterRuntime) IsCoordinator() bool {
	return c.cfg.Role == RoleCoordinator
}

// Local exposes the embedded local runtime.
func (c *ClusterRuntime) Local() *runtime.LocalRuntime {
	return c.local
}

// Status returns the node's operational state.
func (c *ClusterRuntime) Status() types.RuntimeStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *ClusterRuntime) setStatus(status types.RuntimeStatus) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status = status
}

// RegisterAgentFactory installs a factory for a blueprint type on this node.
func (c *ClusterRuntime) RegisterAgentFactory(blueprintType string, factory AgentFactory) {
	c.factoriesMu.Lock()
	defer c.factoriesMu.Unlock()
	c.factories[blueprintType] = factory
}

func (c *ClusterRuntime) factory(blueprintType string) (AgentFactory, bool) {
	c.factoriesMu.RLock()
	defer c.factoriesMu.RUnlock()
	f, ok := c.factories[blueprintType]
	return f, ok
}

// Start launches the embedded local runtime, serves the inter-node protocol,
// and joins the cluster. Coordinators seed the roster with themselves and
// start the node monitor; workers register with the coordinator and start
// heartbeating.
func (c *ClusterRuntime) Start(ctx context.Context) error {
	if c.Status() != types.RuntimeInitializing {
		return types.NewError(types.CodeInvalidState, "cannot start runtime in state %s", c.Status())
	}

	if err := c.local.Start(ctx); err != nil {
		c.setStatus(types.RuntimeError)
		return err
	}

	server, err := c.cfg.Transport.Serve(c.cfg.Endpoint, &nodeHandler{c: c})
	if err != nil {
		c.setStatus(types.RuntimeError)
		return types.WrapError(types.CodeInternal, err, "failed to serve node endpoint %s", c.cfg.Endpoint)
	}
	c.server = server

	c.stopCh = make(chan struct{})

	if c.IsCoordinator() {
		c.mu.Lock()
		c.nodes[c.cfg.NodeID] = &types.NodeInfo{
			NodeID:        c.cfg.NodeID,
			Name:          c.cfg.NodeName,
			Status:        types.NodeOnline,
			Endpoint:      c.cfg.Endpoint,
			Resources:     c.nodeResources(),
			LastHeartbeat: c.now(),
		}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.nodeMonitorLoop()
	} else {
		peer, err := c.cfg.Transport.Dial(c.cfg.CoordinatorEndpoint)
		if err != nil {
			c.setStatus(types.RuntimeError)
			return types.WrapError(types.CodeUnavailable, err, "failed to dial coordinator")
		}
		c.coordPeer = peer

		_, err = peer.RegisterNode(ctx, &rpc.RegisterNodeRequest{
			Node: types.NodeInfo{
				NodeID:    c.cfg.NodeID,
				Name:      c.cfg.NodeName,
				Status:    types.NodeOnline,
				Endpoint:  c.cfg.Endpoint,
				Resources: c.nodeResources(),
			},
		})
		if err != nil {
			c.setStatus(types.RuntimeError)
			return types.WrapError(types.CodeUnavailable, err, "failed to register with coordinator")
		}

		c.wg.Add(1)
		go c.heartbeatLoop()
	}

	c.setStatus(types.RuntimeRunning)
	c.logger.Info().
		Str("role", string(c.cfg.Role)).
		Str("endpoint", c.cfg.Endpoint).
		Msg("Cluster runtime started")
	return nil
}

// Stop leaves the cluster, cancels the background loops, and stops the
// embedded local runtime. Idempotent once stopped.
func (c *ClusterRuntime) Stop(ctx context.Context) error {
	if c.Status() == types.RuntimeStopped {
		return nil
	}
	c.setStatus(types.RuntimeStopping)

	if c.stopCh != nil {
		close(c.stopCh)
		c.wg.Wait()
		c.stopCh = nil
	}

	if !c.IsCoordinator() && c.coordPeer != nil {
		if err := c.coordPeer.UnregisterNode(ctx, &rpc.UnregisterNodeRequest{NodeID: c.cfg.NodeID}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to unregister from coordinator")
		}
		if err := c.coordPeer.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close coordinator connection")
		}
	}

	if c.server != nil {
		if err := c.server.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close node endpoint")
		}
		c.server = nil
	}

	c.peersMu.Lock()
	for _, peer := range c.peers {
		_ = peer.Close()
	}
	c.peers = make(map[string]rpc.Peer)
	c.peersMu.Unlock()

	if err := c.local.Stop(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Error stopping local runtime")
	}

	c.setStatus(types.RuntimeStopped)
	c.logger.Info().Msg("Cluster runtime stopped")
	return nil
}

// Pause suspends the embedded local runtime. Heartbeats keep flowing so the
// node stays in the roster.
func (c *ClusterRuntime) Pause(ctx context.Context) error {
	if err := c.local.Pause(ctx); err != nil {
		return err
	}
	c.setStatus(types.RuntimePaused)
	return nil
}

// Resume restarts the embedded local runtime.
func (c *ClusterRuntime) Resume(ctx context.Context) error {
	if err := c.local.Resume(ctx); err != nil {
		return err
	}
	c.setStatus(types.RuntimeRunning)
	return nil
}

// nodeResources aggregates local agent usage against the advertised
// capacity.
func (c *ClusterRuntime) nodeResources() types.NodeResources {
	resources := c.cfg.Resources

	var memory, cpu float64
	ids := c.local.AgentIDs()
	for _, id := range ids {
		usage, err := c.local.GetResourceUsage(context.Background(), id)
		if err != nil {
			continue
		}
		memory += usage.MemoryMB
		cpu += usage.CPUPercent
	}

	resources.MemoryMB = memory
	resources.CPUPercent = cpu
	resources.AgentCount = len(ids)
	return resources
}

// peer returns a cached connection to a node endpoint.
func (c *ClusterRuntime) peer(nodeID, endpoint string) (rpc.Peer, error) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()

	if p, ok := c.peers[nodeID]; ok {
		return p, nil
	}
	p, err := c.cfg.Transport.Dial(endpoint)
	if err != nil {
		return nil, types.WrapError(types.CodeUnavailable, err, "failed to dial node %s", nodeID)
	}
	c.peers[nodeID] = p
	return p, nil
}

// Nodes returns a snapshot of the roster.
func (c *ClusterRuntime) Nodes() []*types.NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.NodeInfo, 0, len(c.nodes))
	for _, node := range c.nodes {
		copied := *node
		out = append(out, &copied)
	}
	return out
}

// Placements returns a snapshot of the placement table.
func (c *ClusterRuntime) Placements() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.placements))
	for agentID, nodeID := range c.placements {
		out[agentID] = nodeID
	}
	return out
}
