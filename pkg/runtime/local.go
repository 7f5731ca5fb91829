package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/health"
	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/resource"
	"github.com/burrow-io/burrow/pkg/trace"
	"github.com/burrow-io/burrow/pkg/types"
)

// agentRecord is the runtime's per-agent bookkeeping. Mutated only under the
// runtime lock; lifecycle transitions are the only legal status mutations.
type agentRecord struct {
	agent     types.Agent
	status    types.AgentStatus
	agentType string
	limits    types.ResourceLimits
	lastErr   error
	cancel    context.CancelFunc
}

// LocalRuntime runs agents in-process: registry, lifecycle state machine,
// run dispatch, background health and state-save loops, and auto-recovery.
type LocalRuntime struct {
	cfg Config

	mu     sync.RWMutex
	status types.RuntimeStatus
	agents map[string]*agentRecord

	tracker   *resource.Tracker
	monitor   *health.Monitor
	respCheck *health.ResponseTimeCheck
	tracer    *trace.Tracer
	logger    zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLocalRuntime creates a runtime in INITIALIZING state. Call Start to
// launch the background loops.
func NewLocalRuntime(cfg Config) *LocalRuntime {
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = DefaultConfig().MaxAgents
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}
	if cfg.StateSaveInterval == 0 {
		cfg.StateSaveInterval = DefaultConfig().StateSaveInterval
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.Default()
	}

	monitor := health.NewMonitor(cfg.HealthCheckInterval)

	resCheck := health.NewResourceCheck()
	if cfg.WarningThreshold > 0 {
		resCheck.WarningThreshold = cfg.WarningThreshold
	}
	if cfg.CriticalThreshold > 0 {
		resCheck.CriticalThreshold = cfg.CriticalThreshold
	}

	respCheck := health.NewResponseTimeCheck()
	if cfg.ResponseTimeWarning > 0 {
		respCheck.WarningThresholdMs = float64(cfg.ResponseTimeWarning.Milliseconds())
	}
	if cfg.ResponseTimeCritical > 0 {
		respCheck.CriticalThresholdMs = float64(cfg.ResponseTimeCritical.Milliseconds())
	}

	monitor.RegisterCheck(resCheck)
	monitor.RegisterCheck(respCheck)

	return &LocalRuntime{
		cfg:       cfg,
		status:    types.RuntimeInitializing,
		agents:    make(map[string]*agentRecord),
		tracker:   resource.NewTracker(),
		monitor:   monitor,
		respCheck: respCheck,
		tracer:    tracer,
		logger:    log.WithComponent("local-runtime"),
	}
}

// Status returns the runtime's operational state.
func (r *LocalRuntime) Status() types.RuntimeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Monitor exposes the health monitor, primarily for wiring extra checks.
func (r *LocalRuntime) Monitor() *health.Monitor {
	return r.monitor
}

// Tracker exposes the resource tracker.
func (r *LocalRuntime) Tracker() *resource.Tracker {
	return r.tracker
}

// Start initialises the state provider and launches the health-check and
// state-save loops. Only legal from INITIALIZING.
func (r *LocalRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status != types.RuntimeInitializing {
		status := r.status
		r.mu.Unlock()
		return types.NewError(types.CodeInvalidState, "cannot start runtime in state %s", status)
	}
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	if r.cfg.StateProvider != nil {
		if err := r.cfg.StateProvider.Initialize(ctx); err != nil {
			r.mu.Lock()
			r.status = types.RuntimeError
			r.mu.Unlock()
			return types.WrapError(types.CodeStateIO, err, "failed to initialize state provider")
		}

		if ids, err := r.cfg.StateProvider.List(ctx); err == nil {
			for _, id := range ids {
				r.logger.Info().Str("agent_id", id).Msg("Found saved state")
			}
		}
	}

	r.wg.Add(2)
	go r.healthCheckLoop()
	go r.stateSaveLoop()

	r.mu.Lock()
	r.status = types.RuntimeRunning
	r.mu.Unlock()

	r.logger.Info().Msg("Local runtime started")
	return nil
}

// Stop cancels the background loops, persists every agent's state, marks
// the agents COMPLETED, and releases the resource tracker. Idempotent once
// stopped.
func (r *LocalRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.status == types.RuntimeStopped {
		r.mu.Unlock()
		return nil
	}
	r.status = types.RuntimeStopping
	stopCh := r.stopCh
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		r.wg.Wait()
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.StopAgent(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("agent_id", id).Msg("Error stopping agent")
		}
	}

	r.mu.Lock()
	r.tracker = resource.NewTracker()
	r.status = types.RuntimeStopped
	r.mu.Unlock()

	r.logger.Info().Msg("Local runtime stopped")
	return nil
}

// Pause suspends the background loops and pauses idle agents. A paused
// runtime rejects RunAgent but keeps serving status queries. Pausing a
// paused runtime is a no-op.
func (r *LocalRuntime) Pause(ctx context.Context) error {
	r.mu.Lock()
	if r.status == types.RuntimePaused {
		r.mu.Unlock()
		return nil
	}
	if r.status != types.RuntimeRunning {
		status := r.status
		r.mu.Unlock()
		return types.NewError(types.CodeInvalidState, "cannot pause runtime in state %s", status)
	}
	stopCh := r.stopCh
	r.status = types.RuntimePaused

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if stopCh != nil {
		// The closed channel stays in r.stopCh until the loops have exited,
		// so a loop that reads it late still sees it closed.
		close(stopCh)
		r.wg.Wait()
		r.mu.Lock()
		if r.stopCh == stopCh {
			r.stopCh = nil
		}
		r.mu.Unlock()
	}

	for _, id := range ids {
		if err := r.PauseAgent(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("agent_id", id).Msg("Error pausing agent")
		}
	}

	r.logger.Info().Msg("Local runtime paused")
	return nil
}

// Resume restarts the background loops and resumes paused agents. Resuming
// a running runtime is a no-op.
func (r *LocalRuntime) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.status == types.RuntimeRunning {
		r.mu.Unlock()
		return nil
	}
	if r.status != types.RuntimePaused {
		status := r.status
		r.mu.Unlock()
		return types.NewError(types.CodeInvalidState, "cannot resume runtime in state %s", status)
	}
	r.stopCh = make(chan struct{})
	r.status = types.RuntimeRunning

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.wg.Add(2)
	go r.healthCheckLoop()
	go r.stateSaveLoop()

	for _, id := range ids {
		if err := r.ResumeAgent(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("agent_id", id).Msg("Error resuming agent")
		}
	}

	r.logger.Info().Msg("Local runtime resumed")
	return nil
}

// RegisterAgent inserts an agent into the registry with status INITIALIZING
// and transitions it to READY.
func (r *LocalRuntime) RegisterAgent(ctx context.Context, agent types.Agent, opts RegisterOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != types.RuntimeRunning && r.status != types.RuntimePaused {
		return "", types.NewError(types.CodeInvalidState, "cannot register agent in runtime state %s", r.status)
	}

	agentID := opts.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	if _, exists := r.agents[agentID]; exists {
		return "", types.NewError(types.CodeAlreadyExists, "agent %s already registered", agentID)
	}
	if len(r.agents) >= r.cfg.MaxAgents {
		return "", types.NewError(types.CodeResourceConstraint, "runtime at max_agents capacity (%d)", r.cfg.MaxAgents)
	}

	limits := r.cfg.DefaultLimits
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	record := &agentRecord{
		agent:     agent,
		status:    types.AgentInitializing,
		agentType: fmt.Sprintf("%T", agent),
		limits:    limits,
	}
	r.agents[agentID] = record
	r.tracker.RegisterAgent(agentID, limits)

	record.status = types.AgentReady
	metrics.IncActiveAgents()

	r.logger.Info().Str("agent_id", agentID).Str("agent_name", agent.Name()).Msg("Agent registered")
	return agentID, nil
}

// UnregisterAgent cancels any in-flight task best-effort, releases the
// tracker entry, clears the health cache, and removes the agent.
func (r *LocalRuntime) UnregisterAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	cancel := record.cancel
	delete(r.agents, agentID)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.tracker.UnregisterAgent(agentID)
	r.monitor.ClearEntity(agentID)
	r.respCheck.Clear(agentID)
	metrics.DecActiveAgents()

	r.logger.Info().Str("agent_id", agentID).Msg("Agent unregistered")
	return nil
}

// GetAgentStatus returns the agent's lifecycle status.
func (r *LocalRuntime) GetAgentStatus(ctx context.Context, agentID string) (types.AgentStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.agents[agentID]
	if !ok {
		return "", types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	return record.status, nil
}

// Agent returns the registered agent handle.
func (r *LocalRuntime) Agent(agentID string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.agents[agentID]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	return record.agent, nil
}

// AgentIDs lists the registered agent ids.
func (r *LocalRuntime) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// RunAgent dispatches a query to an agent and returns its response. The
// agent must be READY or RUNNING and the runtime RUNNING. Admission is
// rate-limited through the resource tracker and fails fast.
func (r *LocalRuntime) RunAgent(ctx context.Context, agentID, query string, metadata map[string]any) (string, error) {
	r.mu.Lock()
	if r.status != types.RuntimeRunning {
		status := r.status
		r.mu.Unlock()
		return "", types.NewError(types.CodeInvalidState, "cannot run agent in runtime state %s", status)
	}

	record, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return "", types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	if record.status != types.AgentReady && record.status != types.AgentRunning {
		status := record.status
		r.mu.Unlock()
		return "", types.NewError(types.CodeInvalidState, "cannot run agent in state %s", status)
	}

	agent := record.agent
	record.status = types.AgentRunning
	runCtx, cancel := context.WithCancel(ctx)
	record.cancel = cancel
	r.mu.Unlock()

	defer cancel()

	if err := r.tracker.RecordRequest(agentID); err != nil {
		r.setAgentStatus(agentID, types.AgentError, err)
		metrics.RecordAgentRequest(agentID, agent.Name(), "error")
		return "", err
	}

	span := r.tracer.StartSpan("agent.run", parentContext(ctx), trace.KindAgent, map[string]any{
		"agent_id":   agentID,
		"agent_name": agent.Name(),
	})
	defer r.tracer.EndSpan(span)

	start := time.Now()
	response, err := agent.Run(trace.ContextWithSpan(runCtx, span), query, metadata)
	elapsed := time.Since(start)

	r.tracker.CompleteRequest(agentID)

	if err != nil {
		span.SetStatus(trace.StatusError, err.Error())
		span.AddEvent("exception", map[string]any{"message": err.Error()})
		metrics.RecordAgentRequest(agentID, agent.Name(), "error")

		// An agent that honours cancellation cleanly goes back to READY; a
		// timeout it did not handle leaves it in ERROR.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.setAgentStatus(agentID, types.AgentReady, nil)
			return "", types.WrapError(types.CodeTimeout, err, "agent %s run cancelled", agentID)
		}

		r.setAgentStatus(agentID, types.AgentError, err)
		r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Agent run failed")
		return "", types.WrapError(types.CodeAgentExecution, err, "agent %s run failed", agentID)
	}

	r.respCheck.Record(agentID, float64(elapsed.Milliseconds()))
	r.tracker.RecordTokens(agentID, estimateTokens(response))
	r.setAgentStatus(agentID, types.AgentReady, nil)

	metrics.RecordAgentRequest(agentID, agent.Name(), "success")
	metrics.ObserveAgentLatency(agentID, agent.Name(), elapsed.Seconds())

	return response, nil
}

// estimateTokens approximates token usage from response length. Placeholder
// until agents report real token counts.
func estimateTokens(response string) int64 {
	return int64(len(response) / 4)
}

// parentContext extracts the span context riding on ctx, if any.
func parentContext(ctx context.Context) *trace.SpanContext {
	if span := trace.SpanFromContext(ctx); span != nil {
		return &span.Context
	}
	return nil
}

// setAgentStatus applies a lifecycle transition under the runtime lock.
func (r *LocalRuntime) setAgentStatus(agentID string, status types.AgentStatus, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.agents[agentID]; ok {
		record.status = status
		record.lastErr = lastErr
		record.cancel = nil
	}
}

// SaveAgentState snapshots an agent through the state provider. A runtime
// without a provider treats this as a no-op.
func (r *LocalRuntime) SaveAgentState(ctx context.Context, agentID string) error {
	if r.cfg.StateProvider == nil {
		return nil
	}

	r.mu.RLock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.RUnlock()
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	agent := record.agent
	status := record.status
	agentType := record.agentType
	r.mu.RUnlock()

	history := map[string]any{}
	if mem := agent.Memory(); mem != nil {
		snapshot, err := mem.Snapshot()
		if err != nil {
			return types.WrapError(types.CodeStateIO, err, "failed to snapshot memory for agent %s", agentID)
		}
		history = snapshot
	}

	agentState := &types.AgentState{
		AgentID:             agentID,
		AgentType:           agentType,
		Status:              status,
		Timestamp:           time.Now().Unix(),
		ConversationHistory: history,
		Metadata: map[string]any{
			"name":        agent.Name(),
			"description": agent.Description(),
		},
		Config:     map[string]any{},
		CustomData: map[string]any{},
	}

	if err := r.cfg.StateProvider.Save(ctx, agentState); err != nil {
		return err
	}

	r.logger.Debug().Str("agent_id", agentID).Msg("Saved agent state")
	return nil
}

// LoadAgentState restores an agent's memory and status from its most recent
// snapshot. Missing snapshots are not an error.
func (r *LocalRuntime) LoadAgentState(ctx context.Context, agentID string) error {
	if r.cfg.StateProvider == nil {
		return nil
	}

	r.mu.RLock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.RUnlock()
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	agent := record.agent
	r.mu.RUnlock()

	agentState, err := r.cfg.StateProvider.Load(ctx, agentID)
	if err != nil {
		return err
	}
	if agentState == nil {
		r.logger.Warn().Str("agent_id", agentID).Msg("No saved state found")
		return nil
	}

	if mem := agent.Memory(); mem != nil && len(agentState.ConversationHistory) > 0 {
		if err := mem.Restore(agentState.ConversationHistory); err != nil {
			r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error restoring conversation history")
		}
	}

	r.mu.Lock()
	if record, ok := r.agents[agentID]; ok {
		record.status = agentState.Status
	}
	r.mu.Unlock()

	r.logger.Info().Str("agent_id", agentID).Msg("Loaded agent state")
	return nil
}

// GetResourceUsage returns the agent's current resource usage.
func (r *LocalRuntime) GetResourceUsage(ctx context.Context, agentID string) (types.ResourceUsage, error) {
	r.mu.RLock()
	_, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return types.ResourceUsage{}, types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	return r.tracker.GetUsage(agentID)
}

// CheckHealth runs the registered health checks for an agent and returns
// the worst-wins aggregate.
func (r *LocalRuntime) CheckHealth(ctx context.Context, agentID string) (types.HealthCheckResult, error) {
	r.mu.RLock()
	_, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return types.HealthCheckResult{}, types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}

	usage, err := r.tracker.GetUsage(agentID)
	if err != nil {
		return types.HealthCheckResult{}, err
	}
	limits, err := r.tracker.GetLimits(agentID)
	if err != nil {
		return types.HealthCheckResult{}, err
	}

	r.monitor.CheckHealth(ctx, agentID, health.CheckContext{
		EntityID: agentID,
		Usage:    &usage,
		Limits:   &limits,
	})

	return r.monitor.Aggregate(agentID), nil
}

// RecoverAgent attempts to bring an agent out of ERROR by restoring its last
// snapshot. Agents not in ERROR need no recovery and report success.
func (r *LocalRuntime) RecoverAgent(ctx context.Context, agentID string) (bool, error) {
	r.mu.RLock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.RUnlock()
		return false, types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	status := record.status
	r.mu.RUnlock()

	if status != types.AgentError {
		r.logger.Info().Str("agent_id", agentID).Msg("Agent not in error state, no recovery needed")
		return true, nil
	}

	if err := r.LoadAgentState(ctx, agentID); err != nil {
		r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error recovering agent")
		return false, nil
	}

	r.setAgentStatus(agentID, types.AgentReady, nil)
	r.logger.Info().Str("agent_id", agentID).Msg("Agent recovered")
	return true, nil
}
