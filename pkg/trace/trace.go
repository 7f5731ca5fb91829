package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
)

// SpanKind classifies what a span measures.
type SpanKind string

const (
	KindInternal SpanKind = "INTERNAL"
	KindAgent    SpanKind = "AGENT"
	KindModel    SpanKind = "MODEL"
	KindTool     SpanKind = "TOOL"
	KindHandoff  SpanKind = "HANDOFF"
	KindServer   SpanKind = "SERVER"
	KindClient   SpanKind = "CLIENT"
)

// SpanStatus is the outcome of a span.
type SpanStatus string

const (
	StatusUnset SpanStatus = "UNSET"
	StatusOK    SpanStatus = "OK"
	StatusError SpanStatus = "ERROR"
)

// SpanContext identifies a span and its position in a trace. A child span
// copies its parent's TraceID and sets ParentID to the parent's SpanID.
type SpanContext struct {
	TraceID  string `json:"trace_id"`
	SpanID   string `json:"span_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Span is a single traced operation.
type Span struct {
	Name          string         `json:"name"`
	Context       SpanContext    `json:"context"`
	Kind          SpanKind       `json:"kind"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	Status        SpanStatus     `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`

	mu sync.Mutex
}

// SetAttribute attaches an attribute to the span.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// AddEvent records a timestamped event on the span.
func (s *Span) AddEvent(name string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, Event{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attributes,
	})
}

// SetStatus sets the span outcome.
func (s *Span) SetStatus(status SpanStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.StatusMessage = message
}

// Duration returns the elapsed span time; zero if the span has not ended.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Exporter receives batches of finished spans. Export failures are logged
// and counted; they never interrupt tracing.
type Exporter interface {
	Export(spans []*Span) error
	Shutdown() error
}

// Tracer creates, finishes, and exports spans.
type Tracer struct {
	mu        sync.Mutex
	active    map[string]*Span
	finished  []*Span
	exporters []Exporter
	stopCh    chan struct{}
	stopOnce  sync.Once
	logger    zerolog.Logger

	onError func()
}

// NewTracer creates a tracer with no exporters attached.
func NewTracer() *Tracer {
	return &Tracer{
		active: make(map[string]*Span),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("tracer"),
	}
}

// AddExporter attaches an exporter for finished spans.
func (t *Tracer) AddExporter(exporter Exporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, exporter)
}

// SetErrorHook installs a callback invoked once per failed export. Used to
// count exporter errors without coupling the tracer to the metric registry.
func (t *Tracer) SetErrorHook(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// StartSpan begins a span. A nil parent starts a new trace; otherwise the
// child inherits the parent's trace id and records the parent's span id.
func (t *Tracer) StartSpan(name string, parent *SpanContext, kind SpanKind, attributes map[string]any) *Span {
	sc := SpanContext{SpanID: uuid.NewString()}
	if parent != nil {
		sc.TraceID = parent.TraceID
		sc.ParentID = parent.SpanID
	} else {
		sc.TraceID = uuid.NewString()
	}

	if kind == "" {
		kind = KindInternal
	}

	span := &Span{
		Name:       name,
		Context:    sc,
		Kind:       kind,
		StartTime:  time.Now(),
		Attributes: attributes,
		Status:     StatusUnset,
	}

	t.mu.Lock()
	t.active[sc.SpanID] = span
	t.mu.Unlock()

	return span
}

// EndSpan finishes a span and queues it for export. Ending an already-ended
// span is a no-op.
func (t *Tracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	span.mu.Lock()
	if !span.EndTime.IsZero() {
		span.mu.Unlock()
		return
	}
	span.EndTime = time.Now()
	if span.EndTime.Before(span.StartTime) {
		span.EndTime = span.StartTime
	}
	if span.Status == StatusUnset {
		span.Status = StatusOK
	}
	span.mu.Unlock()

	t.mu.Lock()
	delete(t.active, span.Context.SpanID)
	t.finished = append(t.finished, span)
	t.mu.Unlock()
}

// ActiveSpan returns an unfinished span by id, or nil.
func (t *Tracer) ActiveSpan(spanID string) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[spanID]
}

// Flush hands all finished spans to every exporter and clears the queue.
func (t *Tracer) Flush() {
	t.mu.Lock()
	spans := t.finished
	t.finished = nil
	exporters := make([]Exporter, len(t.exporters))
	copy(exporters, t.exporters)
	onError := t.onError
	t.mu.Unlock()

	if len(spans) == 0 {
		return
	}

	for _, exporter := range exporters {
		if err := exporter.Export(spans); err != nil {
			t.logger.Error().Err(err).Int("spans", len(spans)).Msg("Span export failed")
			if onError != nil {
				onError()
			}
		}
	}
}

// StartExportLoop flushes finished spans on a fixed cadence until Stop.
func (t *Tracer) StartExportLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Flush()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop halts the export loop, flushes remaining spans, and shuts down
// exporters.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.Flush()

	t.mu.Lock()
	exporters := make([]Exporter, len(t.exporters))
	copy(exporters, t.exporters)
	t.mu.Unlock()

	for _, exporter := range exporters {
		if err := exporter.Shutdown(); err != nil {
			t.logger.Error().Err(err).Msg("Exporter shutdown failed")
		}
	}
}

// WithSpan runs fn inside a child span of whatever span rides on ctx. The
// span is ended on every exit path; a non-nil error marks the span ERROR and
// records an exception event before the error is returned unchanged.
func (t *Tracer) WithSpan(ctx context.Context, name string, kind SpanKind, fn func(ctx context.Context) error) error {
	var parent *SpanContext
	if ps := SpanFromContext(ctx); ps != nil {
		parent = &ps.Context
	}

	span := t.StartSpan(name, parent, kind, nil)
	defer t.EndSpan(span)

	err := fn(ContextWithSpan(ctx, span))
	if err != nil {
		span.SetStatus(StatusError, err.Error())
		span.AddEvent("exception", map[string]any{"message": err.Error()})
	}
	return err
}

type ctxKey struct{}

// ContextWithSpan returns a context carrying the span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, ctxKey{}, span)
}

// SpanFromContext returns the span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(ctxKey{}).(*Span)
	return span
}

var (
	defaultTracer   = NewTracer()
	defaultTracerMu sync.RWMutex
)

// Default returns the process-wide tracer.
func Default() *Tracer {
	defaultTracerMu.RLock()
	defer defaultTracerMu.RUnlock()
	return defaultTracer
}

// SetDefault replaces the process-wide tracer. Tests use this to install a
// tracer with an in-memory exporter.
func SetDefault(t *Tracer) {
	defaultTracerMu.Lock()
	defer defaultTracerMu.Unlock()
	defaultTracer = t
}
