package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/types"
)

// Monitor runs registered checks against entities, caches results with a
// check-interval floor, and aggregates per-entity health worst-wins.
type Monitor struct {
	checkInterval time.Duration

	mu        sync.Mutex
	checks    map[string]Check
	lastCheck map[string]map[string]time.Time
	results   map[string]map[string]types.HealthCheckResult
	logger    zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewMonitor creates a monitor with the given minimum time between check
// runs per entity.
func NewMonitor(checkInterval time.Duration) *Monitor {
	return &Monitor{
		checkInterval: checkInterval,
		checks:        make(map[string]Check),
		lastCheck:     make(map[string]map[string]time.Time),
		results:       make(map[string]map[string]types.HealthCheckResult),
		logger:        log.WithComponent("health-monitor"),
		now:           time.Now,
	}
}

// RegisterCheck adds a check to the monitor.
func (m *Monitor) RegisterCheck(check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[check.Name()] = check
}

// UnregisterCheck removes a check by name.
func (m *Monitor) UnregisterCheck(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// ClearEntity drops all cached health data for an entity.
func (m *Monitor) ClearEntity(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastCheck, entityID)
	delete(m.results, entityID)
}

// CheckHealth runs every registered check for an entity. Within the check
// interval the cached result is returned. Outside it the check re-runs and,
// if the new result is neither HEALTHY nor UNKNOWN and recovery has not been
// attempted yet, recovery runs once followed by a re-check.
func (m *Monitor) CheckHealth(ctx context.Context, entityID string, cc CheckContext) map[string]types.HealthCheckResult {
	if cc.EntityID == "" {
		cc.EntityID = entityID
	}

	m.mu.Lock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.Unlock()

	results := make(map[string]types.HealthCheckResult, len(checks))

	for name, check := range checks {
		now := m.now()

		m.mu.Lock()
		last := m.lastCheck[entityID][name]
		cached, haveCached := m.results[entityID][name]
		m.mu.Unlock()

		if haveCached && now.Sub(last) < m.checkInterval {
			results[name] = cached
			continue
		}

		result := check.CheckHealth(ctx, cc)

		if result.Status != types.HealthHealthy && result.Status != types.HealthUnknown && !result.RecoveryAttempted {
			m.logger.Info().
				Str("entity_id", entityID).
				Str("check", name).
				Str("status", string(result.Status)).
				Msg("Attempting recovery")

			result.RecoveryAttempted = true
			result.RecoverySuccessful = check.AttemptRecovery(ctx, cc)

			if result.RecoverySuccessful {
				recheck := check.CheckHealth(ctx, cc)
				recheck.RecoveryAttempted = true
				recheck.RecoverySuccessful = true
				result = recheck
				m.logger.Info().Str("entity_id", entityID).Str("check", name).Msg("Recovery successful")
			} else {
				m.logger.Warn().Str("entity_id", entityID).Str("check", name).Msg("Recovery failed")
			}
		}

		m.mu.Lock()
		if m.results[entityID] == nil {
			m.results[entityID] = make(map[string]types.HealthCheckResult)
		}
		if m.lastCheck[entityID] == nil {
			m.lastCheck[entityID] = make(map[string]time.Time)
		}
		m.results[entityID][name] = result
		m.lastCheck[entityID][name] = now
		m.mu.Unlock()

		results[name] = result
	}

	return results
}

// OverallHealth aggregates an entity's cached results worst-wins. An entity
// with no cached results is UNKNOWN.
func (m *Monitor) OverallHealth(entityID string) types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached, ok := m.results[entityID]
	if !ok || len(cached) == 0 {
		return types.HealthUnknown
	}

	worst := types.HealthHealthy
	for _, result := range cached {
		worst = types.WorstHealth(worst, result.Status)
	}
	return worst
}

// Aggregate returns the entity's overall status with per-check results in
// the details.
func (m *Monitor) Aggregate(entityID string) types.HealthCheckResult {
	overall := m.OverallHealth(entityID)

	m.mu.Lock()
	defer m.mu.Unlock()

	details := make(map[string]any)
	for name, result := range m.results[entityID] {
		details[name] = result
	}

	return types.HealthCheckResult{
		Status:    overall,
		Timestamp: m.now(),
		Details:   details,
	}
}
