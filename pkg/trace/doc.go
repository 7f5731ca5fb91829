// Package trace is Burrow's tracing substrate: spans with parent/child
// linkage, span contexts, and pluggable exporters for finished spans.
//
// A child span copies its parent's trace id and records the parent's span id.
// Spans ride on context.Context (ContextWithSpan / SpanFromContext); the
// WithSpan helper is the context-manager form, guaranteeing the span ends on
// every exit path and that errors mark the span ERROR with an exception
// event.
//
// Exporters receive lists of finished spans. Export failures are logged and
// counted; they never interrupt tracing. A process-wide default tracer is
// provided for convenience and is replaceable in tests via SetDefault.
package trace
