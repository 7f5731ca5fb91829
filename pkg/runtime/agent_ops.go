package runtime

import (
	"context"

	"github.com/burrow-io/burrow/pkg/types"
)

// StartAgent marks a registered agent READY. Starting a running agent is a
// no-op; a COMPLETED agent is terminal and is rejected with INVALID_STATE.
func (r *LocalRuntime) StartAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	if record.status == types.AgentRunning {
		return nil
	}
	if record.status == types.AgentCompleted {
		return types.NewError(types.CodeInvalidState, "agent %s is completed", agentID)
	}

	record.status = types.AgentReady
	r.logger.Info().Str("agent_id", agentID).Msg("Agent started")
	return nil
}

// StopAgent cancels any in-flight task, persists the agent's state, and
// marks it COMPLETED.
func (r *LocalRuntime) StopAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	cancel := record.cancel
	record.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := r.SaveAgentState(ctx, agentID); err != nil {
		r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error saving state on stop")
	}

	r.mu.Lock()
	if record, ok := r.agents[agentID]; ok {
		record.status = types.AgentCompleted
	}
	r.mu.Unlock()

	r.logger.Info().Str("agent_id", agentID).Msg("Agent stopped")
	return nil
}

// PauseAgent moves an idle (READY or ERROR) agent to PAUSED and persists its
// state. Pausing a paused agent is a no-op; other states are left alone.
func (r *LocalRuntime) PauseAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}

	switch record.status {
	case types.AgentPaused:
		r.mu.Unlock()
		return nil
	case types.AgentReady, types.AgentError:
		record.status = types.AgentPaused
	default:
		status := record.status
		r.mu.Unlock()
		r.logger.Warn().Str("agent_id", agentID).Str("status", string(status)).Msg("Agent not idle, skipping pause")
		return nil
	}
	r.mu.Unlock()

	if err := r.SaveAgentState(ctx, agentID); err != nil {
		r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error saving state on pause")
	}

	r.logger.Info().Str("agent_id", agentID).Msg("Agent paused")
	return nil
}

// ResumeAgent moves a PAUSED agent back to READY. Resuming a non-paused
// agent is a no-op.
func (r *LocalRuntime) ResumeAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.CodeNotFound, "agent %s not registered", agentID)
	}
	if record.status != types.AgentPaused {
		return nil
	}

	record.status = types.AgentReady
	r.logger.Info().Str("agent_id", agentID).Msg("Agent resumed")
	return nil
}
