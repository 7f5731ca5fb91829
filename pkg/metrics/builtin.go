package metrics

// Built-in metric names populated by the runtime and its helpers.
const (
	MetricAgentRequests  = "agent_requests_total"
	MetricAgentLatency   = "agent_latency_seconds"
	MetricModelTokens    = "model_tokens_total"
	MetricToolCalls      = "tool_calls_total"
	MetricToolLatency    = "tool_latency_seconds"
	MetricHandoffs       = "handoffs_total"
	MetricActiveAgents   = "active_agents"
	MetricMigrations     = "migrations_total"
	MetricExporterErrors = "exporter_errors_total"
)

// RecordAgentRequest counts one RunAgent outcome.
func RecordAgentRequest(agentID, agentName, status string) {
	Default().Counter(MetricAgentRequests, "Outcomes of agent run requests").
		Inc(1, map[string]string{
			"agent_id":   agentID,
			"agent_name": agentName,
			"status":     status,
		})
}

// ObserveAgentLatency records one end-to-end RunAgent duration in seconds.
func ObserveAgentLatency(agentID, agentName string, seconds float64) {
	Default().Histogram(MetricAgentLatency, "End-to-end agent run duration in seconds", nil).
		Observe(seconds, map[string]string{
			"agent_id":   agentID,
			"agent_name": agentName,
		})
}

// RecordModelTokens counts model token usage. tokenType is "input" or
// "output".
func RecordModelTokens(modelName, provider, tokenType string, n float64) {
	Default().Counter(MetricModelTokens, "Model token usage").
		Inc(n, map[string]string{
			"model_name": modelName,
			"provider":   provider,
			"type":       tokenType,
		})
}

// RecordToolCall counts one tool invocation made by an agent.
func RecordToolCall(toolName, agentID, status string) {
	Default().Counter(MetricToolCalls, "Tool invocations recorded by agents").
		Inc(1, map[string]string{
			"tool_name": toolName,
			"agent_id":  agentID,
			"status":    status,
		})
}

// ObserveToolLatency records one tool call duration in seconds.
func ObserveToolLatency(toolName, agentID string, seconds float64) {
	Default().Histogram(MetricToolLatency, "Tool call duration in seconds", nil).
		Observe(seconds, map[string]string{
			"tool_name": toolName,
			"agent_id":  agentID,
		})
}

// RecordHandoff counts one handoff outcome between agents.
func RecordHandoff(sourceAgentID, targetAgentID, status string) {
	Default().Counter(MetricHandoffs, "Handoff outcomes between agents").
		Inc(1, map[string]string{
			"source_agent_id": sourceAgentID,
			"target_agent_id": targetAgentID,
			"status":          status,
		})
}

// IncActiveAgents bumps the live-agent gauge.
func IncActiveAgents() {
	Default().Gauge(MetricActiveAgents, "Live agent count").Inc(1, nil)
}

// DecActiveAgents drops the live-agent gauge.
func DecActiveAgents() {
	Default().Gauge(MetricActiveAgents, "Live agent count").Dec(1, nil)
}

// RecordMigration counts one agent migration.
func RecordMigration(reason string) {
	Default().Counter(MetricMigrations, "Agent migrations").
		Inc(1, map[string]string{"reason": reason})
}

// RecordExporterError counts one observability exporter failure.
func RecordExporterError(component string) {
	Default().Counter(MetricExporterErrors, "Observability exporter failures").
		Inc(1, map[string]string{"component": component})
}
