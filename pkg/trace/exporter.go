package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/burrow-io/burrow/pkg/log"
)

// ConsoleExporter writes finished spans to the structured log.
type ConsoleExporter struct{}

// NewConsoleExporter creates a console exporter.
func NewConsoleExporter() *ConsoleExporter {
	return &ConsoleExporter{}
}

// Export logs one line per finished span.
func (e *ConsoleExporter) Export(spans []*Span) error {
	logger := log.WithComponent("trace-export")
	for _, span := range spans {
		logger.Info().
			Str("name", span.Name).
			Str("trace_id", span.Context.TraceID).
			Str("span_id", span.Context.SpanID).
			Str("parent_id", span.Context.ParentID).
			Str("kind", string(span.Kind)).
			Str("status", string(span.Status)).
			Dur("duration", span.Duration()).
			Msg("span")
	}
	return nil
}

// Shutdown is a no-op for the console exporter.
func (e *ConsoleExporter) Shutdown() error {
	return nil
}

// FileExporter appends finished spans as JSON lines to a file.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileExporter opens (or creates) the target file for appending.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &FileExporter{file: f}, nil
}

// Export writes one JSON line per span.
func (e *FileExporter) Export(spans []*Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.file)
	for _, span := range spans {
		if err := enc.Encode(span); err != nil {
			return fmt.Errorf("failed to encode span: %w", err)
		}
	}
	return nil
}

// Shutdown closes the file.
func (e *FileExporter) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

// InMemoryExporter collects exported spans for inspection. Used in tests and
// as a buffer for custom sinks.
type InMemoryExporter struct {
	mu    sync.Mutex
	spans []*Span
}

// NewInMemoryExporter creates an empty in-memory exporter.
func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{}
}

// Export retains the spans.
func (e *InMemoryExporter) Export(spans []*Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, spans...)
	return nil
}

// Shutdown is a no-op.
func (e *InMemoryExporter) Shutdown() error {
	return nil
}

// Spans returns a copy of everything exported so far.
func (e *InMemoryExporter) Spans() []*Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Span, len(e.spans))
	copy(out, e.spans)
	return out
}

// Reset drops all retained spans.
func (e *InMemoryExporter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = nil
}
