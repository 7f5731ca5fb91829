// Package health grades agents and runtime components.
//
// A Check returns a graded status (HEALTHY through CRITICAL) and can attempt
// recovery. Two checks ship built in: resource utilisation against limits
// and rolling-window response times. The Monitor schedules checks with a
// per-(entity, check) cache floor, runs recovery at most once per fresh
// result, and aggregates an entity's health worst-wins.
package health
