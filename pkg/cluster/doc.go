// Package cluster distributes agents across cooperating nodes.
//
// A node is either the coordinator or a worker, chosen at construction; both
// wrap a local runtime for on-node execution. The coordinator owns the
// authoritative node roster and the agent placement table, serialised behind
// a single lock. Workers register at start, heartbeat on a fixed cadence
// (carrying a resource snapshot and their hosted agent ids), and unregister
// on graceful stop.
//
// The coordinator's node monitor marks nodes OFFLINE once their heartbeat
// goes stale past the timeout and migrates their agents: pick a new node
// with the minimal-utilisation placement policy, restore the last persisted
// snapshot, commit the placement table update, then place the agent.
// Unplaceable agents sit in a quarantine table with status UNKNOWN and are
// retried every monitor tick.
//
// Requests route transparently: a node answers for agents it hosts and
// forwards everything else — workers through the coordinator, the
// coordinator through the placement table. Errors returned by a remote node
// are rewrapped with the originating node id.
package cluster
