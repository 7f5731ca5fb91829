package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/state"
	"github.com/burrow-io/burrow/pkg/trace"
	"github.com/burrow-io/burrow/pkg/types"
)

type testMemory struct {
	mu   sync.Mutex
	data map[string]any
}

func (m *testMemory) Snapshot() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *testMemory) Restore(snapshot map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = snapshot
	return nil
}

type testAgent struct {
	id     string
	name   string
	memory *testMemory

	mu    sync.Mutex
	calls int
	runFn func(ctx context.Context, query string) (string, error)
}

func newTestAgent(id string) *testAgent {
	return &testAgent{
		id:     id,
		name:   id,
		memory: &testMemory{data: map[string]any{}},
	}
}

func (a *testAgent) ID() string           { return a.id }
func (a *testAgent) Name() string         { return a.name }
func (a *testAgent) Description() string  { return "test agent" }
func (a *testAgent) Memory() types.Memory { return a.memory }

func (a *testAgent) Run(ctx context.Context, query string, metadata map[string]any) (string, error) {
	a.mu.Lock()
	a.calls++
	fn := a.runFn
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, query)
	}
	return "echo: " + query, nil
}

func startedRuntime(t *testing.T, cfg Config) *LocalRuntime {
	t.Helper()
	if cfg.StateProvider == nil {
		cfg.StateProvider = state.NewMemoryProvider()
	}
	rt := NewLocalRuntime(cfg)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func TestLifecycleHappyPath(t *testing.T) {
	oldMetrics := metrics.Default()
	reg := metrics.NewRegistry()
	metrics.SetDefault(reg)
	defer metrics.SetDefault(oldMetrics)

	tracer := trace.NewTracer()
	exporter := trace.NewInMemoryExporter()
	tracer.AddExporter(exporter)

	rt := startedRuntime(t, Config{Tracer: tracer})
	ctx := context.Background()

	agentID, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", agentID)

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)

	response, err := rt.RunAgent(ctx, "a1", "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, response)

	status, err = rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)

	requests := reg.Counter(metrics.MetricAgentRequests, "")
	assert.Equal(t, 1.0, requests.Get(map[string]string{
		"agent_id": "a1", "agent_name": "a1", "status": "success",
	}))

	tracer.Flush()
	spans := exporter.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.run", spans[0].Name)
	assert.Equal(t, trace.KindAgent, spans[0].Kind)
	assert.GreaterOrEqual(t, spans[0].Duration().Nanoseconds(), int64(0))
	assert.False(t, spans[0].EndTime.IsZero())
}

func TestStartRequiresInitializing(t *testing.T) {
	rt := startedRuntime(t, Config{})
	err := rt.Start(context.Background())
	assert.True(t, types.IsCode(err, types.CodeInvalidState))
}

func TestRunAgentRequiresRunningRuntime(t *testing.T) {
	rt := NewLocalRuntime(Config{})
	_, err := rt.RunAgent(context.Background(), "a1", "hello", nil)
	assert.True(t, types.IsCode(err, types.CodeInvalidState))
}

func TestRegisterDuplicateFails(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	assert.True(t, types.IsCode(err, types.CodeAlreadyExists))
}

func TestUnregisterMissingFails(t *testing.T) {
	rt := startedRuntime(t, Config{})
	err := rt.UnregisterAgent(context.Background(), "ghost")
	assert.True(t, types.IsCode(err, types.CodeNotFound))
}

func TestRegisterUnregisterRegister(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)
	require.NoError(t, rt.UnregisterAgent(ctx, "a1"))

	_, err = rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)
}

func TestRecoveryFromError(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	agent := newTestAgent("a1")
	agent.runFn = func(ctx context.Context, query string) (string, error) {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		if agent.calls == 1 {
			return "", errors.New("model exploded")
		}
		return "recovered response", nil
	}

	_, err := rt.RegisterAgent(ctx, agent, RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = rt.RunAgent(ctx, "a1", "hello", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeAgentExecution))

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentError, status)

	recovered, err := rt.RecoverAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, recovered)

	status, err = rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)

	response, err := rt.RunAgent(ctx, "a1", "hello again", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered response", response)
}

func TestRecoverAgentNotInError(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	recovered, err := rt.RecoverAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, recovered)
}

func TestPauseResumeIdempotent(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	require.NoError(t, rt.Pause(ctx))
	require.NoError(t, rt.Pause(ctx))
	assert.Equal(t, types.RuntimePaused, rt.Status())

	// Paused runtimes reject runs but serve status queries.
	_, err = rt.RunAgent(ctx, "a1", "hello", nil)
	assert.True(t, types.IsCode(err, types.CodeInvalidState))

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentPaused, status)

	require.NoError(t, rt.Resume(ctx))
	require.NoError(t, rt.Resume(ctx))
	assert.Equal(t, types.RuntimeRunning, rt.Status())

	_, err = rt.RunAgent(ctx, "a1", "hello", nil)
	require.NoError(t, err)
}

func TestStopIdempotent(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, types.RuntimeStopped, rt.Status())

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentCompleted, status)
}

func TestSaveAndLoadState(t *testing.T) {
	provider := state.NewMemoryProvider()
	rt := startedRuntime(t, Config{StateProvider: provider})
	ctx := context.Background()

	agent := newTestAgent("a1")
	agent.memory.data = map[string]any{"topic": "burrows"}

	_, err := rt.RegisterAgent(ctx, agent, RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)
	require.NoError(t, rt.SaveAgentState(ctx, "a1"))

	saved, err := provider.Load(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "a1", saved.AgentID)
	assert.Equal(t, types.AgentReady, saved.Status)
	assert.Equal(t, "burrows", saved.ConversationHistory["topic"])

	// Mutate memory, then restore the snapshot.
	require.NoError(t, agent.memory.Restore(map[string]any{"topic": "something else"}))
	require.NoError(t, rt.LoadAgentState(ctx, "a1"))

	snapshot, err := agent.memory.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "burrows", snapshot["topic"])
}

func TestRunAgentRateLimitFailsFast(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	limits := &types.ResourceLimits{MaxRequestsPerMinute: 1}
	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1", Limits: limits})
	require.NoError(t, err)

	_, err = rt.RunAgent(ctx, "a1", "one", nil)
	require.NoError(t, err)

	_, err = rt.RunAgent(ctx, "a1", "two", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeResourceConstraint))

	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentError, status)
}

func TestRunAgentHonoursCancellation(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	agent := newTestAgent("a1")
	agent.runFn = func(ctx context.Context, query string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := rt.RegisterAgent(ctx, agent, RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = rt.RunAgent(runCtx, "a1", "slow", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeTimeout))

	// The agent handled cancellation cleanly, so it returns to READY.
	status, err := rt.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentReady, status)
}

func TestMaxAgents(t *testing.T) {
	rt := startedRuntime(t, Config{MaxAgents: 1})
	ctx := context.Background()

	_, err := rt.RegisterAgent(ctx, newTestAgent("a1"), RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = rt.RegisterAgent(ctx, newTestAgent("a2"), RegisterOptions{AgentID: "a2"})
	assert.True(t, types.IsCode(err, types.CodeResourceConstraint))
}

func TestTokenEstimate(t *testing.T) {
	rt := startedRuntime(t, Config{})
	ctx := context.Background()

	agent := newTestAgent("a1")
	agent.runFn = func(ctx context.Context, query string) (string, error) {
		return "12345678", nil // 8 chars, estimated 2 tokens
	}

	_, err := rt.RegisterAgent(ctx, agent, RegisterOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = rt.RunAgent(ctx, "a1", "q", nil)
	require.NoError(t, err)

	usage, err := rt.GetResourceUsage(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.TokensTotal)
}
