// Package resource tracks per-agent usage counters (memory, cpu, tokens,
// request rates, bandwidth, custom metrics) against per-agent limits.
//
// UpdateUsage validates every present limit in field-declaration order and
// rejects the whole update on the first violation, keeping the last accepted
// values. RecordRequest is the admission path for run requests: it fails
// fast on the request-rate and concurrency limits rather than queuing.
// Per-minute counters are derived from rolling one-minute windows.
package resource
