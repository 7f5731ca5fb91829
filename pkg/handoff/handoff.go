package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/metrics"
	"github.com/burrow-io/burrow/pkg/trace"
	"github.com/burrow-io/burrow/pkg/types"
)

// Invocation shapes recognised at the process boundary, probed in order
// after the native Agent contract: run, invoke, execute, call.
type runnable interface {
	Run(ctx context.Context, query string, metadata map[string]any) (string, error)
}

type invoker interface {
	Invoke(ctx context.Context, input string) (string, error)
}

type executor interface {
	Execute(ctx context.Context, input string) (string, error)
}

type caller interface {
	Call(ctx context.Context, input string) (string, error)
}

// Options are the optional parameters of a handoff.
type Options struct {
	// Metadata travels with the handoff record and the target invocation.
	Metadata map[string]any
	// Timeout bounds the target invocation; zero means no bound.
	Timeout time.Duration
}

// Result is the outcome of a completed handoff.
type Result struct {
	HandoffID string
	Response  string
}

// Handoff passes a message from a source agent to a target. Native agents
// receive the handoff record in their memory before running; foreign targets
// are probed for a recognised invocation shape. UNSUPPORTED_TARGET reports a
// target with no usable shape; TIMEOUT reports an overrun deadline.
func Handoff(ctx context.Context, source types.Agent, target any, message string, opts Options) (*Result, error) {
	handoffID := uuid.NewString()

	sourceID := ""
	sourceName := ""
	if source != nil {
		sourceID = source.ID()
		sourceName = source.Name()
	}

	targetID := "external"
	if agent, ok := target.(types.Agent); ok {
		targetID = agent.ID()
	}

	logger := log.WithComponent("handoff")
	logger.Info().
		Str("handoff_id", handoffID).
		Str("source_id", sourceID).
		Str("target_id", targetID).
		Msg("Handoff started")

	span := trace.Default().StartSpan("handoff", parentContext(ctx), trace.KindHandoff, map[string]any{
		"handoff_id": handoffID,
		"source_id":  sourceID,
		"target_id":  targetID,
	})
	defer trace.Default().EndSpan(span)
	ctx = trace.ContextWithSpan(ctx, span)

	invoke, err := resolveTarget(target, handoffID, sourceID, sourceName, message, opts.Metadata)
	if err != nil {
		span.SetStatus(trace.StatusError, err.Error())
		metrics.RecordHandoff(sourceID, targetID, "unsupported")
		return nil, err
	}

	response, err := invokeWithTimeout(ctx, invoke, message, opts.Timeout)
	if err != nil {
		span.SetStatus(trace.StatusError, err.Error())
		if types.IsCode(err, types.CodeTimeout) {
			metrics.RecordHandoff(sourceID, targetID, "timeout")
		} else {
			metrics.RecordHandoff(sourceID, targetID, "error")
		}
		return nil, err
	}

	metrics.RecordHandoff(sourceID, targetID, "success")
	logger.Info().Str("handoff_id", handoffID).Msg("Handoff completed")

	return &Result{HandoffID: handoffID, Response: response}, nil
}

// invokeFunc is a resolved target invocation.
type invokeFunc func(ctx context.Context, message string) (string, error)

// resolveTarget picks the target's invocation shape. Native agents get the
// handoff record appended to their memory first.
func resolveTarget(target any, handoffID, sourceID, sourceName, message string, metadata map[string]any) (invokeFunc, error) {
	if agent, ok := target.(types.Agent); ok {
		if err := appendHandoffRecord(agent, handoffID, sourceID, sourceName, message, metadata); err != nil {
			return nil, err
		}
		return func(ctx context.Context, message string) (string, error) {
			return agent.Run(ctx, message, metadata)
		}, nil
	}

	switch t := target.(type) {
	case runnable:
		return func(ctx context.Context, message string) (string, error) {
			return t.Run(ctx, message, metadata)
		}, nil
	case invoker:
		return t.Invoke, nil
	case executor:
		return t.Execute, nil
	case caller:
		return t.Call, nil
	}

	return nil, types.NewError(types.CodeUnsupportedTarget, "target exposes no recognised invocation shape")
}

// appendHandoffRecord adds a system-message handoff record to the target's
// memory.
func appendHandoffRecord(agent types.Agent, handoffID, sourceID, sourceName, message string, metadata map[string]any) error {
	mem := agent.Memory()
	if mem == nil {
		return nil
	}

	snapshot, err := mem.Snapshot()
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to snapshot target memory")
	}
	if snapshot == nil {
		snapshot = make(map[string]any)
	}

	record := map[string]any{
		"role":        "system",
		"handoff_id":  handoffID,
		"source_id":   sourceID,
		"source_name": sourceName,
		"message":     message,
		"timestamp":   time.Now().Unix(),
	}
	if len(metadata) > 0 {
		record["metadata"] = metadata
	}

	history, _ := snapshot["handoff_history"].([]any)
	snapshot["handoff_history"] = append(history, any(record))

	if err := mem.Restore(snapshot); err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to restore target memory")
	}
	return nil
}

// invokeWithTimeout runs the invocation, bounding it when a timeout is set.
// A target that ignores cancellation is abandoned at the deadline.
func invokeWithTimeout(ctx context.Context, invoke invokeFunc, message string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return invoke(ctx, message)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		response string
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		response, err := invoke(ctx, message)
		done <- outcome{response, err}
	}()

	select {
	case out := <-done:
		return out.response, out.err
	case <-ctx.Done():
		return "", types.WrapError(types.CodeTimeout, ctx.Err(), "handoff timed out after %s", timeout)
	}
}

// parentContext extracts the span context riding on ctx, if any.
func parentContext(ctx context.Context) *trace.SpanContext {
	if span := trace.SpanFromContext(ctx); span != nil {
		return &span.Context
	}
	return nil
}
