package resource

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/types"
)

// agentEntry is the tracker's per-agent record.
type agentEntry struct {
	usage  types.ResourceUsage
	limits types.ResourceLimits

	// Rolling one-minute windows backing the per-minute counters.
	requestTimes []time.Time
	tokenTimes   []time.Time
	tokenCounts  []int64
}

// Tracker owns per-agent usage counters and limits, and signals violations.
type Tracker struct {
	mu     sync.Mutex
	agents map[string]*agentEntry
	logger zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		agents: make(map[string]*agentEntry),
		logger: log.WithComponent("resource-tracker"),
		now:    time.Now,
	}
}

// RegisterAgent starts tracking an agent under the given limits.
func (t *Tracker) RegisterAgent(agentID string, limits types.ResourceLimits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents[agentID] = &agentEntry{limits: limits}
}

// UnregisterAgent drops the agent's record.
func (t *Tracker) UnregisterAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}

// UpdateUsage replaces the agent's usage after validating it against every
// present limit, in field-declaration order. On violation the update is
// rejected and the last accepted usage is kept.
func (t *Tracker) UpdateUsage(agentID string, usage types.ResourceUsage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		entry = &agentEntry{}
		t.agents[agentID] = entry
	}

	if err := checkLimits(agentID, usage, entry.limits); err != nil {
		return err
	}

	entry.usage = usage
	return nil
}

// GetUsage returns the agent's current usage, refreshed against the rolling
// per-minute windows.
func (t *Tracker) GetUsage(agentID string) (types.ResourceUsage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return types.ResourceUsage{}, types.NewError(types.CodeNotFound, "agent %s not registered for resource tracking", agentID)
	}

	t.refreshWindows(entry)
	return entry.usage, nil
}

// SetLimits replaces the agent's limits, registering the agent if needed.
func (t *Tracker) SetLimits(agentID string, limits types.ResourceLimits) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		t.agents[agentID] = &agentEntry{limits: limits}
		return
	}
	entry.limits = limits
}

// GetLimits returns the agent's limits.
func (t *Tracker) GetLimits(agentID string) (types.ResourceLimits, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return types.ResourceLimits{}, types.NewError(types.CodeNotFound, "agent %s not registered for resource tracking", agentID)
	}
	return entry.limits, nil
}

// RecordRequest admits one request. It fails fast with a constraint
// violation when the request-rate or concurrency limit would be exceeded;
// nothing is queued.
func (t *Tracker) RecordRequest(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return types.NewError(types.CodeNotFound, "agent %s not registered for resource tracking", agentID)
	}

	t.refreshWindows(entry)

	if max := entry.limits.MaxRequestsPerMinute; max > 0 && entry.usage.RequestsPerMinute+1 > max {
		return &types.ConstraintViolation{
			Resource: types.ResourceRequests,
			Current:  float64(entry.usage.RequestsPerMinute + 1),
			Limit:    float64(max),
			AgentID:  agentID,
		}
	}
	if max := entry.limits.MaxConcurrentRequests; max > 0 && entry.usage.ConcurrentRequests+1 > max {
		return &types.ConstraintViolation{
			Resource: types.ResourceConcurrency,
			Current:  float64(entry.usage.ConcurrentRequests + 1),
			Limit:    float64(max),
			AgentID:  agentID,
		}
	}

	entry.requestTimes = append(entry.requestTimes, t.now())
	entry.usage.RequestsPerMinute = len(entry.requestTimes)
	entry.usage.ConcurrentRequests++
	return nil
}

// CompleteRequest releases one in-flight request.
func (t *Tracker) CompleteRequest(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return
	}
	if entry.usage.ConcurrentRequests > 0 {
		entry.usage.ConcurrentRequests--
	}
}

// RecordTokens adds token usage to the running total and the rolling
// one-minute window.
func (t *Tracker) RecordTokens(agentID string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return
	}

	entry.usage.TokensTotal += n
	entry.tokenTimes = append(entry.tokenTimes, t.now())
	entry.tokenCounts = append(entry.tokenCounts, n)
	t.refreshWindows(entry)
}

// refreshWindows prunes the rolling windows to the last minute and refreshes
// the derived counters. Caller holds the lock.
func (t *Tracker) refreshWindows(entry *agentEntry) {
	cutoff := t.now().Add(-time.Minute)

	i := 0
	for i < len(entry.requestTimes) && entry.requestTimes[i].Before(cutoff) {
		i++
	}
	entry.requestTimes = entry.requestTimes[i:]
	entry.usage.RequestsPerMinute = len(entry.requestTimes)

	j := 0
	for j < len(entry.tokenTimes) && entry.tokenTimes[j].Before(cutoff) {
		j++
	}
	entry.tokenTimes = entry.tokenTimes[j:]
	entry.tokenCounts = entry.tokenCounts[j:]

	var lastMinute int64
	for _, n := range entry.tokenCounts {
		lastMinute += n
	}
	entry.usage.TokensLastMinute = lastMinute
}

// checkLimits raises on the first violated limit, in field-declaration
// order. A zero limit is unbounded; violation means strictly greater.
func checkLimits(agentID string, usage types.ResourceUsage, limits types.ResourceLimits) error {
	if limits.MaxMemoryMB > 0 && usage.MemoryMB > limits.MaxMemoryMB {
		return &types.ConstraintViolation{
			Resource: types.ResourceMemory,
			Current:  usage.MemoryMB,
			Limit:    limits.MaxMemoryMB,
			AgentID:  agentID,
		}
	}
	if limits.MaxCPUPercent > 0 && usage.CPUPercent > limits.MaxCPUPercent {
		return &types.ConstraintViolation{
			Resource: types.ResourceCPU,
			Current:  usage.CPUPercent,
			Limit:    limits.MaxCPUPercent,
			AgentID:  agentID,
		}
	}
	if limits.MaxTokensTotal > 0 && usage.TokensTotal > limits.MaxTokensTotal {
		return &types.ConstraintViolation{
			Resource: types.ResourceTokens,
			Current:  float64(usage.TokensTotal),
			Limit:    float64(limits.MaxTokensTotal),
			AgentID:  agentID,
		}
	}
	if limits.MaxTokensPerMinute > 0 && usage.TokensLastMinute > limits.MaxTokensPerMinute {
		return &types.ConstraintViolation{
			Resource: types.ResourceTokens,
			Current:  float64(usage.TokensLastMinute),
			Limit:    float64(limits.MaxTokensPerMinute),
			AgentID:  agentID,
		}
	}
	if limits.MaxRequestsPerMinute > 0 && usage.RequestsPerMinute > limits.MaxRequestsPerMinute {
		return &types.ConstraintViolation{
			Resource: types.ResourceRequests,
			Current:  float64(usage.RequestsPerMinute),
			Limit:    float64(limits.MaxRequestsPerMinute),
			AgentID:  agentID,
		}
	}
	if limits.MaxBandwidthKB > 0 && usage.BandwidthKB > limits.MaxBandwidthKB {
		return &types.ConstraintViolation{
			Resource: types.ResourceBandwidth,
			Current:  usage.BandwidthKB,
			Limit:    limits.MaxBandwidthKB,
			AgentID:  agentID,
		}
	}
	if limits.MaxConcurrentRequests > 0 && usage.ConcurrentRequests > limits.MaxConcurrentRequests {
		return &types.ConstraintViolation{
			Resource: types.ResourceConcurrency,
			Current:  float64(usage.ConcurrentRequests),
			Limit:    float64(limits.MaxConcurrentRequests),
			AgentID:  agentID,
		}
	}
	for name, limit := range limits.Custom {
		if current, ok := usage.Custom[name]; ok && limit > 0 && current > limit {
			return &types.ConstraintViolation{
				Resource: types.ResourceCustom,
				Current:  current,
				Limit:    limit,
				AgentID:  agentID,
			}
		}
	}
	return nil
}
