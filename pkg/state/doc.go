// Package state persists agent snapshots so agents can be recovered in
// place or restarted on another node.
//
// Four providers implement the same contract: in-memory (tests, single
// process), file-backed (one JSON document per agent, whole-file writes),
// BoltDB (single-file embedded store), and Redis (shared keyspace for
// clusters, the provider migration relies on in production).
//
// Save;Load round-trips the snapshot unchanged, Delete;Load yields absent,
// and List names exactly the agents with saved snapshots.
package state
