// Package runtime is the local agent runtime: an in-process registry and
// lifecycle engine for agents.
//
// LocalRuntime owns the agent records and enforces the lifecycle state
// machine:
//
//	INITIALIZING ──register──▶ READY
//	READY ──run start──▶ RUNNING
//	RUNNING ──run ok──▶ READY
//	RUNNING ──run fail──▶ ERROR
//	READY/ERROR ──pause──▶ PAUSED
//	PAUSED ──resume──▶ READY
//	ERROR ──recover ok──▶ READY
//	* ──stop──▶ COMPLETED (terminal)
//
// RunAgent dispatches queries with resource admission, span tracing, latency
// recording, and token accounting. Two background loops run while the
// runtime is RUNNING: a health-check loop that auto-recovers agents that are
// unhealthy and in ERROR, and a state-save loop that snapshots every agent
// periodically and once more on shutdown. Loop failures are logged and
// swallowed; they never take the runtime down.
package runtime
