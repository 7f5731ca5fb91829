// Package types defines the shared contracts of the Burrow runtime: the
// Agent interface, lifecycle and health statuses, resource usage and limit
// records, node and cluster records, the persistence payload, and the error
// taxonomy every public call reports through.
//
// The package is dependency-free by design; every other package imports it.
package types
