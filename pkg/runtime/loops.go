package runtime

import (
	"context"
	"time"

	"github.com/burrow-io/burrow/pkg/types"
)

// healthCheckLoop runs every agent's health checks on a fixed cadence and
// auto-recovers agents that are both unhealthy and in ERROR. Errors are
// logged and swallowed to keep the loop alive.
func (r *LocalRuntime) healthCheckLoop() {
	defer r.wg.Done()

	r.mu.RLock()
	stopCh := r.stopCh
	r.mu.RUnlock()

	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.Status() != types.RuntimeRunning {
				continue
			}
			r.runHealthCycle()
		case <-stopCh:
			return
		}
	}
}

// runHealthCycle checks every agent once.
func (r *LocalRuntime) runHealthCycle() {
	ctx := context.Background()

	for _, agentID := range r.AgentIDs() {
		result, err := r.CheckHealth(ctx, agentID)
		if err != nil {
			r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error checking agent health")
			continue
		}

		if result.Status != types.HealthCritical && result.Status != types.HealthUnhealthy {
			continue
		}

		r.logger.Warn().
			Str("agent_id", agentID).
			Str("status", string(result.Status)).
			Msg("Agent unhealthy")

		status, err := r.GetAgentStatus(ctx, agentID)
		if err != nil || status != types.AgentError {
			continue
		}

		r.logger.Info().Str("agent_id", agentID).Msg("Attempting auto-recovery")
		if _, err := r.RecoverAgent(ctx, agentID); err != nil {
			r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Auto-recovery failed")
		}
	}
}

// stateSaveLoop snapshots every agent on a fixed cadence and performs a
// final snapshot pass on cancellation. Persistence errors here are logged
// and suppressed.
func (r *LocalRuntime) stateSaveLoop() {
	defer r.wg.Done()

	r.mu.RLock()
	stopCh := r.stopCh
	r.mu.RUnlock()

	ticker := time.NewTicker(r.cfg.StateSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.Status() != types.RuntimeRunning {
				continue
			}
			r.saveAllAgents()
		case <-stopCh:
			// Final snapshot pass before exit.
			r.saveAllAgents()
			return
		}
	}
}

// saveAllAgents snapshots every registered agent, logging failures.
func (r *LocalRuntime) saveAllAgents() {
	ctx := context.Background()

	for _, agentID := range r.AgentIDs() {
		if err := r.SaveAgentState(ctx, agentID); err != nil {
			r.logger.Error().Err(err).Str("agent_id", agentID).Msg("Error saving agent state")
		}
	}
}
