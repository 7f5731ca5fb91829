package runtime

import (
	"context"
	"time"

	"github.com/burrow-io/burrow/pkg/state"
	"github.com/burrow-io/burrow/pkg/trace"
	"github.com/burrow-io/burrow/pkg/types"
)

// Runtime manages the lifecycle, execution, persistence, and health of
// agents. LocalRuntime runs agents in-process; cluster.ClusterRuntime
// distributes them across nodes.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	RegisterAgent(ctx context.Context, agent types.Agent, opts RegisterOptions) (string, error)
	UnregisterAgent(ctx context.Context, agentID string) error
	GetAgentStatus(ctx context.Context, agentID string) (types.AgentStatus, error)

	RunAgent(ctx context.Context, agentID, query string, metadata map[string]any) (string, error)

	SaveAgentState(ctx context.Context, agentID string) error
	LoadAgentState(ctx context.Context, agentID string) error

	GetResourceUsage(ctx context.Context, agentID string) (types.ResourceUsage, error)
	CheckHealth(ctx context.Context, agentID string) (types.HealthCheckResult, error)
	RecoverAgent(ctx context.Context, agentID string) (bool, error)
}

var _ Runtime = (*LocalRuntime)(nil)

// RegisterOptions are the optional parameters of RegisterAgent.
type RegisterOptions struct {
	// AgentID pins the agent id; empty generates one.
	AgentID string
	// Limits overrides the runtime's default resource limits.
	Limits *types.ResourceLimits
}

// Config holds the tunables of a LocalRuntime.
type Config struct {
	MaxAgents           int
	DefaultLimits       types.ResourceLimits
	HealthCheckInterval time.Duration
	StateSaveInterval   time.Duration

	// Resource health bands; zero selects the 0.8 / 0.95 defaults.
	WarningThreshold  float64
	CriticalThreshold float64

	// Response-time health bands; zero selects the 2s / 5s defaults.
	ResponseTimeWarning  time.Duration
	ResponseTimeCritical time.Duration

	// StateProvider persists agent snapshots; nil disables persistence.
	StateProvider state.Provider

	// Tracer receives run spans; nil selects the process default.
	Tracer *trace.Tracer
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		MaxAgents: 100,
		DefaultLimits: types.ResourceLimits{
			MaxMemoryMB:          1024,
			MaxCPUPercent:        50,
			MaxRequestsPerMinute: 120,
		},
		HealthCheckInterval: 60 * time.Second,
		StateSaveInterval:   300 * time.Second,
	}
}
