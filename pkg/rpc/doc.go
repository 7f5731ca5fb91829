// Package rpc defines the inter-node protocol: the message schemas for node
// registration, heartbeats, agent placement, request forwarding, and state
// operations, plus the Transport abstraction that carries them.
//
// Two transports ship with the runtime: an in-process transport that wires
// nodes together inside one process (embedded workers, tests) and a JSON
// over HTTP transport for real deployments. Every call carries a correlation
// id and the caller's deadline; errors travel as taxonomy codes and are
// rewrapped with the originating node id by the cluster layer.
package rpc
