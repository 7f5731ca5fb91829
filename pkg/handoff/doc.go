// Package handoff is the cross-runtime invocation shim between agents.
//
// A handoff carries a message from a source agent to a target. When the
// target is a native agent, the handoff record lands in its memory as a
// system message before it runs. Foreign targets — agents entering the
// process from other frameworks — are probed for a recognised invocation
// shape in the order run, invoke, execute, call; a target with none fails
// with UNSUPPORTED_TARGET. An optional timeout bounds the invocation.
package handoff
