// Package metrics is Burrow's metric registry: counters, gauges, and
// histograms keyed by (name, sorted label set), with a periodic flush that
// hands snapshots to the configured exporters.
//
// Counters are monotone (negative increments are dropped). Histogram buckets
// are cumulative upper bounds; an observation exactly on a boundary lands in
// that bucket. Snapshots are plain records — name, description, type, and
// per-label-set values — so exporters stay trivial: console, JSON-lines
// file, and a Prometheus bridge served via promhttp.
//
// The built-in metric set the runtime populates (agent_requests_total,
// agent_latency_seconds, migrations_total, active_agents, ...) lives in
// builtin.go along with the recording helpers agent implementations use for
// tool and model accounting.
//
// A process-wide default registry is provided for convenience and is
// replaceable in tests via SetDefault.
package metrics
