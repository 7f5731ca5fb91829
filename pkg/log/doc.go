// Package log provides structured logging for all Burrow components.
//
// It wraps zerolog with a process-global logger configured once at startup
// (level, JSON or human-readable console output) and child-logger helpers
// that attach the standard correlation fields: component, agent_id, node_id.
//
// Components obtain a named logger at construction time:
//
//	logger := log.WithComponent("runtime")
//	logger.Info().Str("agent_id", id).Msg("agent registered")
//
// Background loops log failures and continue; they never panic the process.
package log
