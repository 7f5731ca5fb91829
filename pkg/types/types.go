package types

import (
	"context"
	"time"
)

// Memory is the restorable portion of an agent. The runtime never inspects
// its contents; it only round-trips snapshots through a state provider.
type Memory interface {
	Snapshot() (map[string]any, error)
	Restore(snapshot map[string]any) error
}

// Agent is the compute unit managed by a runtime: an opaque handle with a
// stable identity and a run capability. Implementations live outside the
// runtime; adapters for third-party frameworks produce this interface.
type Agent interface {
	ID() string
	Name() string
	Description() string

	// Memory returns the agent's restorable memory, or nil if the agent
	// carries none.
	Memory() Memory

	// Run consumes a text query and emits a text response. The metadata map
	// carries caller-provided context and may be nil.
	Run(ctx context.Context, query string, metadata map[string]any) (string, error)
}

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentInitializing AgentStatus = "INITIALIZING"
	AgentReady        AgentStatus = "READY"
	AgentRunning      AgentStatus = "RUNNING"
	AgentPaused       AgentStatus = "PAUSED"
	AgentCompleted    AgentStatus = "COMPLETED"
	AgentError        AgentStatus = "ERROR"
	AgentUnknown      AgentStatus = "UNKNOWN"
)

// RuntimeStatus is the operational state of a runtime instance.
type RuntimeStatus string

const (
	RuntimeInitializing RuntimeStatus = "INITIALIZING"
	RuntimeRunning      RuntimeStatus = "RUNNING"
	RuntimePaused       RuntimeStatus = "PAUSED"
	RuntimeStopping     RuntimeStatus = "STOPPING"
	RuntimeStopped      RuntimeStatus = "STOPPED"
	RuntimeError        RuntimeStatus = "ERROR"
)

// AgentState is the persistence payload for an agent: everything needed to
// restart it elsewhere. Round-trips through state providers unchanged.
type AgentState struct {
	AgentID             string         `json:"agent_id"`
	AgentType           string         `json:"agent_type"`
	Status              AgentStatus    `json:"status"`
	Timestamp           int64          `json:"timestamp"`
	ConversationHistory map[string]any `json:"conversation_history"`
	Metadata            map[string]any `json:"metadata"`
	Config              map[string]any `json:"config"`
	CustomData          map[string]any `json:"custom_data"`
}

// AgentBlueprint describes how to re-instantiate an agent on another node.
// Nodes register factory functions per blueprint type.
type AgentBlueprint struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config,omitempty"`
}

// ResourceUsage holds per-agent usage counters. Every field has a
// corresponding slot in ResourceLimits.
type ResourceUsage struct {
	MemoryMB           float64            `json:"memory_mb"`
	CPUPercent         float64            `json:"cpu_percent"`
	TokensTotal        int64              `json:"tokens_total"`
	TokensLastMinute   int64              `json:"tokens_last_minute"`
	RequestsPerMinute  int                `json:"requests_per_minute"`
	BandwidthKB        float64            `json:"bandwidth_kb"`
	ConcurrentRequests int                `json:"concurrent_requests"`
	Custom             map[string]float64 `json:"custom,omitempty"`
}

// ResourceLimits holds per-agent limits. A zero value means unbounded.
// Carries yaml tags because default limits are part of the config surface.
type ResourceLimits struct {
	MaxMemoryMB           float64            `json:"max_memory_mb,omitempty" yaml:"memory_mb"`
	MaxCPUPercent         float64            `json:"max_cpu_percent,omitempty" yaml:"cpu_percent"`
	MaxTokensTotal        int64              `json:"max_tokens_total,omitempty" yaml:"tokens_total"`
	MaxTokensPerMinute    int64              `json:"max_tokens_per_minute,omitempty" yaml:"tokens_per_minute"`
	MaxRequestsPerMinute  int                `json:"max_requests_per_minute,omitempty" yaml:"requests_per_minute"`
	MaxBandwidthKB        float64            `json:"max_bandwidth_kb,omitempty" yaml:"bandwidth_kb"`
	MaxConcurrentRequests int                `json:"max_concurrent_requests,omitempty" yaml:"concurrent_requests"`
	Custom                map[string]float64 `json:"custom,omitempty" yaml:"custom"`
}

// ResourceType identifies which limit a constraint violation refers to.
type ResourceType string

const (
	ResourceMemory      ResourceType = "MEMORY"
	ResourceCPU         ResourceType = "CPU"
	ResourceTokens      ResourceType = "TOKENS"
	ResourceRequests    ResourceType = "REQUESTS"
	ResourceBandwidth   ResourceType = "BANDWIDTH"
	ResourceConcurrency ResourceType = "CONCURRENCY"
	ResourceCustom      ResourceType = "CUSTOM"
)

// HealthStatus is a graded health verdict. Aggregation is worst-wins in the
// order HEALTHY < UNKNOWN < DEGRADED < UNHEALTHY < CRITICAL.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthCritical  HealthStatus = "CRITICAL"
)

var healthSeverity = map[HealthStatus]int{
	HealthHealthy:   0,
	HealthUnknown:   1,
	HealthDegraded:  2,
	HealthUnhealthy: 3,
	HealthCritical:  4,
}

// Severity returns the worst-wins rank of a health status.
func (s HealthStatus) Severity() int {
	return healthSeverity[s]
}

// WorstHealth returns the more severe of two health statuses.
func WorstHealth(a, b HealthStatus) HealthStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// HealthCheckResult is the outcome of a single health check run.
type HealthCheckResult struct {
	Status             HealthStatus   `json:"status"`
	Message            string         `json:"message"`
	Timestamp          time.Time      `json:"timestamp"`
	Details            map[string]any `json:"details,omitempty"`
	RecoveryAttempted  bool           `json:"recovery_attempted"`
	RecoverySuccessful bool           `json:"recovery_successful"`
}

// NodeStatus represents the state of a node as seen by the coordinator.
type NodeStatus string

const (
	NodeOnline      NodeStatus = "ONLINE"
	NodeOffline     NodeStatus = "OFFLINE"
	NodeDegraded    NodeStatus = "DEGRADED"
	NodeMaintenance NodeStatus = "MAINTENANCE"
)

// NodeResources is the resource snapshot a node reports in heartbeats.
// Capacity fields of zero mean the node did not report a capacity.
type NodeResources struct {
	MemoryMB           float64 `json:"memory_mb"`
	MemoryCapacityMB   float64 `json:"memory_capacity_mb"`
	CPUPercent         float64 `json:"cpu_percent"`
	CPUCapacityPercent float64 `json:"cpu_capacity_percent"`
	AgentCount         int     `json:"agent_count"`
}

// NodeInfo is the coordinator's record of a cluster node. Workers hold only
// their own record.
type NodeInfo struct {
	NodeID        string            `json:"node_id"`
	Name          string            `json:"name"`
	Status        NodeStatus        `json:"status"`
	Endpoint      string            `json:"endpoint"`
	Resources     NodeResources     `json:"resources"`
	AgentIDs      []string          `json:"agent_ids"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
