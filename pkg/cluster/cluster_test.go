package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/rpc"
	"github.com/burrow-io/burrow/pkg/runtime"
	"github.com/burrow-io/burrow/pkg/state"
	"github.com/burrow-io/burrow/pkg/types"
)

type echoMemory struct {
	mu   sync.Mutex
	data map[string]any
}

func (m *echoMemory) Snapshot() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *echoMemory) Restore(snapshot map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = snapshot
	return nil
}

type echoAgent struct {
	id     string
	memory *echoMemory
}

func newEchoAgent(id string) *echoAgent {
	return &echoAgent{id: id, memory: &echoMemory{data: map[string]any{}}}
}

func (a *echoAgent) ID() string           { return a.id }
func (a *echoAgent) Name() string         { return "echo" }
func (a *echoAgent) Description() string  { return "echoes queries" }
func (a *echoAgent) Memory() types.Memory { return a.memory }

func (a *echoAgent) Run(ctx context.Context, query string, metadata map[string]any) (string, error) {
	return "echo: " + query, nil
}

type testCluster struct {
	transport *rpc.InProcTransport
	provider  state.Provider
	coord     *ClusterRuntime
	workers   map[string]*ClusterRuntime
	clock     time.Time
}

// newTestCluster builds a coordinator plus workers wired over the in-process
// transport with a shared state provider and a pinned clock. The coordinator
// advertises a tiny capacity so placement prefers the workers.
func newTestCluster(t *testing.T, workerIDs ...string) *testCluster {
	t.Helper()

	tc := &testCluster{
		transport: rpc.NewInProcTransport(),
		provider:  state.NewMemoryProvider(),
		workers:   make(map[string]*ClusterRuntime),
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	ctx := context.Background()

	coord, err := New(Config{
		Local:     runtime.Config{StateProvider: tc.provider},
		NodeID:    "coord",
		Endpoint:  "coord",
		Role:      RoleCoordinator,
		Transport: tc.transport,
		Resources: types.NodeResources{MemoryCapacityMB: 1},
	})
	require.NoError(t, err)
	coord.now = func() time.Time { return tc.clock }
	coord.RegisterAgentFactory("echo", func(bp types.AgentBlueprint) (types.Agent, error) {
		return newEchoAgent(bp.Name), nil
	})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() { _ = coord.Stop(context.Background()) })
	tc.coord = coord

	for _, id := range workerIDs {
		tc.addWorker(t, id)
	}
	return tc
}

func (tc *testCluster) addWorker(t *testing.T, id string) *ClusterRuntime {
	t.Helper()

	worker, err := New(Config{
		Local:               runtime.Config{StateProvider: tc.provider},
		NodeID:              id,
		Endpoint:            id,
		Role:                RoleWorker,
		CoordinatorEndpoint: "coord",
		Transport:           tc.transport,
		Resources:           types.NodeResources{MemoryCapacityMB: 10000},
	})
	require.NoError(t, err)
	worker.now = func() time.Time { return tc.clock }
	worker.RegisterAgentFactory("echo", func(bp types.AgentBlueprint) (types.Agent, error) {
		return newEchoAgent(bp.Name), nil
	})
	require.NoError(t, worker.Start(context.Background()))
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	tc.workers[id] = worker
	return worker
}

// crash simulates a worker dying without unregistering: its endpoint stops
// answering and its heartbeat goes stale.
func (tc *testCluster) crash(t *testing.T, id string, staleBy time.Duration) {
	t.Helper()

	worker := tc.workers[id]
	require.NoError(t, worker.server.Close())
	worker.server = nil

	tc.coord.mu.Lock()
	if node, ok := tc.coord.nodes[id]; ok {
		node.LastHeartbeat = tc.clock.Add(-staleBy)
	}
	tc.coord.mu.Unlock()
}

func TestClusterMigrationOnNodeFailure(t *testing.T) {
	oldMetrics := metrics.Default()
	reg := metrics.NewRegistry()
	metrics.SetDefault(reg)
	defer metrics.SetDefault(oldMetrics)

	tc := newTestCluster(t, "w1", "w2")
	ctx := context.Background()

	limits := &types.ResourceLimits{MaxMemoryMB: 100}
	agentID, err := tc.coord.DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a1"},
		runtime.RegisterOptions{AgentID: "a1", Limits: limits})
	require.NoError(t, err)
	require.Equal(t, "a1", agentID)

	// Equal scores on w1 and w2; the lexicographic tie-break picks w1. The
	// coordinator's tiny capacity keeps the agent off it.
	assert.Equal(t, "w1", tc.coord.Placements()["a1"])
	assert.True(t, tc.workers["w1"].ownsLocally("a1"))

	response, err := tc.coord.RunAgent(ctx, "a1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", response)

	// Give the agent memory worth migrating, then snapshot it.
	agent, err := tc.workers["w1"].local.Agent("a1")
	require.NoError(t, err)
	require.NoError(t, agent.Memory().Restore(map[string]any{"topic": "migration"}))
	require.NoError(t, tc.coord.SaveAgentState(ctx, "a1"))

	// w1 dies without unregistering.
	tc.crash(t, "w1", tc.coord.cfg.HeartbeatTimeout+time.Second)
	tc.coord.checkNodes()

	// The coordinator marked w1 offline and re-placed a1 on w2.
	assert.Equal(t, "w2", tc.coord.Placements()["a1"])
	assert.True(t, tc.workers["w2"].ownsLocally("a1"))

	migrations := reg.Counter(metrics.MetricMigrations, "")
	assert.Equal(t, 1.0, migrations.Get(map[string]string{"reason": "node_failure"}))

	// The restored agent carries the persisted memory and serves requests.
	migrated, err := tc.workers["w2"].local.Agent("a1")
	require.NoError(t, err)
	snapshot, err := migrated.Memory().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "migration", snapshot["topic"])

	response, err = tc.coord.RunAgent(ctx, "a1", "after migration", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: after migration", response)
}

func TestHeartbeatTimeoutBoundary(t *testing.T) {
	tc := newTestCluster(t, "w1")

	// A heartbeat exactly at the timeout is still online.
	tc.coord.mu.Lock()
	tc.coord.nodes["w1"].LastHeartbeat = tc.clock.Add(-tc.coord.cfg.HeartbeatTimeout)
	tc.coord.mu.Unlock()
	tc.coord.checkNodes()

	tc.coord.mu.RLock()
	status := tc.coord.nodes["w1"].Status
	tc.coord.mu.RUnlock()
	assert.Equal(t, types.NodeOnline, status)

	// Strictly greater marks offline.
	tc.coord.mu.Lock()
	tc.coord.nodes["w1"].LastHeartbeat = tc.clock.Add(-tc.coord.cfg.HeartbeatTimeout - time.Nanosecond)
	tc.coord.mu.Unlock()
	tc.coord.checkNodes()

	tc.coord.mu.RLock()
	status = tc.coord.nodes["w1"].Status
	tc.coord.mu.RUnlock()
	assert.Equal(t, types.NodeOffline, status)
}

func TestStaleHeartbeatIgnored(t *testing.T) {
	tc := newTestCluster(t, "w1")
	ctx := context.Background()

	latest := tc.clock.Add(10 * time.Second)
	require.NoError(t, tc.coord.handleHeartbeat(ctx, &rpc.HeartbeatRequest{
		NodeID:    "w1",
		Timestamp: latest,
	}))

	// A reordered older heartbeat must not move last_heartbeat backwards.
	require.NoError(t, tc.coord.handleHeartbeat(ctx, &rpc.HeartbeatRequest{
		NodeID:    "w1",
		Timestamp: tc.clock.Add(5 * time.Second),
	}))

	tc.coord.mu.RLock()
	assert.Equal(t, latest, tc.coord.nodes["w1"].LastHeartbeat)
	tc.coord.mu.RUnlock()
}

func TestHeartbeatReconcilesPlacements(t *testing.T) {
	tc := newTestCluster(t, "w1")
	ctx := context.Background()

	// A worker-registered agent becomes visible through its heartbeat.
	worker := tc.workers["w1"]
	_, err := worker.RegisterAgent(ctx, newEchoAgent("a9"), runtime.RegisterOptions{AgentID: "a9"})
	require.NoError(t, err)

	// Advance the shared clock so the heartbeat is newer than the
	// registration timestamp.
	tc.clock = tc.clock.Add(time.Second)
	require.NoError(t, worker.sendHeartbeat())
	assert.Equal(t, "w1", tc.coord.Placements()["a9"])

	status, err := tc.coord.GetAgentStatus(ctx, "a9")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)
}

func TestWorkerForwardsRunToCoordinator(t *testing.T) {
	tc := newTestCluster(t, "w1", "w2")
	ctx := context.Background()

	_, err := tc.coord.DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a1"},
		runtime.RegisterOptions{AgentID: "a1", Limits: &types.ResourceLimits{MaxMemoryMB: 100}})
	require.NoError(t, err)
	require.Equal(t, "w1", tc.coord.Placements()["a1"])

	// w2 does not host a1; its request routes through the coordinator to w1.
	response, err := tc.workers["w2"].RunAgent(ctx, "a1", "routed", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: routed", response)
}

func TestWorkerDeploysThroughCoordinator(t *testing.T) {
	tc := newTestCluster(t, "w1")
	ctx := context.Background()

	agentID, err := tc.workers["w1"].DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a5"},
		runtime.RegisterOptions{AgentID: "a5", Limits: &types.ResourceLimits{MaxMemoryMB: 100}})
	require.NoError(t, err)
	assert.Equal(t, "a5", agentID)
	assert.Equal(t, "w1", tc.coord.Placements()["a5"])
}

func TestQuarantineWhenNoEligibleNode(t *testing.T) {
	oldMetrics := metrics.Default()
	reg := metrics.NewRegistry()
	metrics.SetDefault(reg)
	defer metrics.SetDefault(oldMetrics)

	tc := newTestCluster(t, "w1")
	ctx := context.Background()

	_, err := tc.coord.DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a1"},
		runtime.RegisterOptions{AgentID: "a1", Limits: &types.ResourceLimits{MaxMemoryMB: 100}})
	require.NoError(t, err)
	require.Equal(t, "w1", tc.coord.Placements()["a1"])

	// The only worker dies; nothing can admit the agent.
	tc.crash(t, "w1", tc.coord.cfg.HeartbeatTimeout+time.Second)
	tc.coord.checkNodes()

	_, placed := tc.coord.Placements()["a1"]
	assert.False(t, placed)

	status, err := tc.coord.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentUnknown, status)

	// A new worker joins; the next monitor tick places the agent.
	tc.addWorker(t, "w2")
	tc.coord.retryQuarantine()

	assert.Equal(t, "w2", tc.coord.Placements()["a1"])
	assert.True(t, tc.workers["w2"].ownsLocally("a1"))

	migrations := reg.Counter(metrics.MetricMigrations, "")
	assert.Equal(t, 1.0, migrations.Get(map[string]string{"reason": "quarantine_retry"}))
}

func TestGracefulWorkerStopMigratesAgents(t *testing.T) {
	tc := newTestCluster(t, "w1", "w2")
	ctx := context.Background()

	_, err := tc.coord.DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a1"},
		runtime.RegisterOptions{AgentID: "a1", Limits: &types.ResourceLimits{MaxMemoryMB: 100}})
	require.NoError(t, err)
	require.Equal(t, "w1", tc.coord.Placements()["a1"])

	require.NoError(t, tc.workers["w1"].Stop(ctx))

	// The drained node's agent moved to the remaining worker.
	assert.Equal(t, "w2", tc.coord.Placements()["a1"])

	// Roster invariant: every placement points at a roster node.
	nodes := make(map[string]bool)
	for _, n := range tc.coord.Nodes() {
		nodes[n.NodeID] = true
	}
	for _, nodeID := range tc.coord.Placements() {
		assert.True(t, nodes[nodeID])
	}
}

func TestRunAgentOnOfflineNodeUnavailable(t *testing.T) {
	tc := newTestCluster(t, "w1")
	ctx := context.Background()

	_, err := tc.coord.DeployAgent(ctx, types.AgentBlueprint{Type: "echo", Name: "a1"},
		runtime.RegisterOptions{AgentID: "a1", Limits: &types.ResourceLimits{MaxMemoryMB: 100}})
	require.NoError(t, err)

	// Mark the hosting node offline without running migration.
	tc.coord.mu.Lock()
	tc.coord.nodes["w1"].Status = types.NodeOffline
	tc.coord.mu.Unlock()

	_, err = tc.coord.RunAgent(ctx, "a1", "hello", nil)
	assert.True(t, types.IsCode(err, types.CodeUnavailable))

	status, err := tc.coord.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentUnknown, status)
}

func TestWorkerRequiresCoordinatorEndpoint(t *testing.T) {
	_, err := New(Config{
		NodeID:    "w1",
		Role:      RoleWorker,
		Transport: rpc.NewInProcTransport(),
	})
	assert.True(t, types.IsCode(err, types.CodeInvalidState))
}
