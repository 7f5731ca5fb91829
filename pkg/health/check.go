package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/burrow-io/burrow/pkg/types"
)

// CheckContext carries the entity data a check evaluates.
type CheckContext struct {
	EntityID string
	Usage    *types.ResourceUsage
	Limits   *types.ResourceLimits
}

// Check decides whether an entity is healthy and can optionally attempt to
// recover it.
type Check interface {
	Name() string
	Description() string
	CheckHealth(ctx context.Context, cc CheckContext) types.HealthCheckResult
	AttemptRecovery(ctx context.Context, cc CheckContext) bool
}

// ResourceCheck grades an entity by its resource utilisation ratios.
type ResourceCheck struct {
	// WarningThreshold and CriticalThreshold are fractions of the limit.
	WarningThreshold  float64
	CriticalThreshold float64
}

// NewResourceCheck creates a resource check with the default bands.
func NewResourceCheck() *ResourceCheck {
	return &ResourceCheck{WarningThreshold: 0.8, CriticalThreshold: 0.95}
}

func (c *ResourceCheck) Name() string { return "resource" }

func (c *ResourceCheck) Description() string {
	return "Checks resource usage against defined limits"
}

// CheckHealth computes usage/limit for every bounded field. Any ratio at or
// above the critical threshold is CRITICAL, at or above the warning
// threshold DEGRADED, otherwise HEALTHY. Missing usage or limits is UNKNOWN.
func (c *ResourceCheck) CheckHealth(ctx context.Context, cc CheckContext) types.HealthCheckResult {
	if cc.Usage == nil || cc.Limits == nil {
		return types.HealthCheckResult{
			Status:    types.HealthUnknown,
			Message:   "missing usage or limits information",
			Timestamp: time.Now(),
		}
	}

	usage, limits := cc.Usage, cc.Limits
	utilization := make(map[string]float64)

	if limits.MaxMemoryMB > 0 {
		utilization["memory"] = usage.MemoryMB / limits.MaxMemoryMB
	}
	if limits.MaxCPUPercent > 0 {
		utilization["cpu"] = usage.CPUPercent / limits.MaxCPUPercent
	}
	if limits.MaxTokensPerMinute > 0 {
		utilization["tokens"] = float64(usage.TokensLastMinute) / float64(limits.MaxTokensPerMinute)
	}
	if limits.MaxRequestsPerMinute > 0 {
		utilization["requests"] = float64(usage.RequestsPerMinute) / float64(limits.MaxRequestsPerMinute)
	}
	if limits.MaxConcurrentRequests > 0 {
		utilization["concurrent_requests"] = float64(usage.ConcurrentRequests) / float64(limits.MaxConcurrentRequests)
	}

	if len(utilization) == 0 {
		return types.HealthCheckResult{
			Status:    types.HealthUnknown,
			Message:   "no resource utilization data available",
			Timestamp: time.Now(),
		}
	}

	var maxUtil float64
	var worst string
	for resource, util := range utilization {
		if util > maxUtil || worst == "" {
			maxUtil = util
			worst = resource
		}
	}

	details := map[string]any{
		"utilization":        utilization,
		"warning_threshold":  c.WarningThreshold,
		"critical_threshold": c.CriticalThreshold,
	}

	switch {
	case maxUtil >= c.CriticalThreshold:
		return types.HealthCheckResult{
			Status:    types.HealthCritical,
			Message:   fmt.Sprintf("%s at %.1f%% of limit (critical threshold)", worst, maxUtil*100),
			Timestamp: time.Now(),
			Details:   details,
		}
	case maxUtil >= c.WarningThreshold:
		return types.HealthCheckResult{
			Status:    types.HealthDegraded,
			Message:   fmt.Sprintf("%s at %.1f%% of limit (warning threshold)", worst, maxUtil*100),
			Timestamp: time.Now(),
			Details:   details,
		}
	default:
		return types.HealthCheckResult{
			Status:    types.HealthHealthy,
			Message:   "resource usage within acceptable limits",
			Timestamp: time.Now(),
			Details:   details,
		}
	}
}

// AttemptRecovery cannot reclaim resources directly.
func (c *ResourceCheck) AttemptRecovery(ctx context.Context, cc CheckContext) bool {
	return false
}

// ResponseTimeCheck grades an entity by the mean of its recent response
// times.
type ResponseTimeCheck struct {
	WarningThresholdMs  float64
	CriticalThresholdMs float64
	HistorySize         int

	mu      sync.Mutex
	history map[string][]float64
}

// NewResponseTimeCheck creates a response-time check with the default bands
// and a rolling window of 10 samples per entity.
func NewResponseTimeCheck() *ResponseTimeCheck {
	return &ResponseTimeCheck{
		WarningThresholdMs:  2000,
		CriticalThresholdMs: 5000,
		HistorySize:         10,
		history:             make(map[string][]float64),
	}
}

func (c *ResponseTimeCheck) Name() string { return "response_time" }

func (c *ResponseTimeCheck) Description() string {
	return "Monitors agent response times against thresholds"
}

// Record appends a response time sample for an entity, keeping only the most
// recent HistorySize samples.
func (c *ResponseTimeCheck) Record(entityID string, responseTimeMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	times := append(c.history[entityID], responseTimeMs)
	if len(times) > c.HistorySize {
		times = times[len(times)-c.HistorySize:]
	}
	c.history[entityID] = times
}

// Clear drops the sample window for an entity.
func (c *ResponseTimeCheck) Clear(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, entityID)
}

// CheckHealth grades by the window mean: above the critical threshold is
// CRITICAL, above the warning threshold DEGRADED, otherwise HEALTHY. No
// samples is UNKNOWN.
func (c *ResponseTimeCheck) CheckHealth(ctx context.Context, cc CheckContext) types.HealthCheckResult {
	c.mu.Lock()
	times := c.history[cc.EntityID]
	samples := make([]float64, len(times))
	copy(samples, times)
	c.mu.Unlock()

	if len(samples) == 0 {
		return types.HealthCheckResult{
			Status:    types.HealthUnknown,
			Message:   fmt.Sprintf("no response time data available for %s", cc.EntityID),
			Timestamp: time.Now(),
		}
	}

	var sum, max float64
	for _, v := range samples {
		sum += v
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(samples))

	details := map[string]any{
		"average_response_time_ms": mean,
		"max_response_time_ms":     max,
		"samples":                  len(samples),
		"warning_threshold_ms":     c.WarningThresholdMs,
		"critical_threshold_ms":    c.CriticalThresholdMs,
	}

	switch {
	case mean > c.CriticalThresholdMs:
		return types.HealthCheckResult{
			Status:    types.HealthCritical,
			Message:   fmt.Sprintf("average response time %.2fms exceeds critical threshold %.0fms", mean, c.CriticalThresholdMs),
			Timestamp: time.Now(),
			Details:   details,
		}
	case mean > c.WarningThresholdMs:
		return types.HealthCheckResult{
			Status:    types.HealthDegraded,
			Message:   fmt.Sprintf("average response time %.2fms exceeds warning threshold %.0fms", mean, c.WarningThresholdMs),
			Timestamp: time.Now(),
			Details:   details,
		}
	default:
		return types.HealthCheckResult{
			Status:    types.HealthHealthy,
			Message:   fmt.Sprintf("average response time %.2fms within acceptable limits", mean),
			Timestamp: time.Now(),
			Details:   details,
		}
	}
}

// AttemptRecovery cannot fix latency directly.
func (c *ResponseTimeCheck) AttemptRecovery(ctx context.Context, cc CheckContext) bool {
	return false
}
