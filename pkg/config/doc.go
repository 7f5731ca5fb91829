// Package config loads the yaml configuration surface of a Burrow node.
//
// Every tunable is a named scalar with a default (heartbeat cadence, health
// thresholds, state provider selection, listen addresses). Load overlays a
// yaml file on the defaults; CLI flags in cmd/burrow override individual
// fields after loading.
package config
