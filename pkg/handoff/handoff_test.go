package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrow-io/burrow/pkg/types"
)

type testMemory struct {
	mu   sync.Mutex
	data map[string]any
}

func (m *testMemory) Snapshot() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *testMemory) Restore(snapshot map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = snapshot
	return nil
}

type testAgent struct {
	id     string
	memory *testMemory
	runFn  func(ctx context.Context, query string) (string, error)
}

func newAgent(id string) *testAgent {
	return &testAgent{id: id, memory: &testMemory{data: map[string]any{}}}
}

func (a *testAgent) ID() string           { return a.id }
func (a *testAgent) Name() string         { return a.id }
func (a *testAgent) Description() string  { return "test agent" }
func (a *testAgent) Memory() types.Memory { return a.memory }

func (a *testAgent) Run(ctx context.Context, query string, metadata map[string]any) (string, error) {
	if a.runFn != nil {
		return a.runFn(ctx, query)
	}
	return "reply: " + query, nil
}

type invokeTarget struct{}

func (invokeTarget) Invoke(ctx context.Context, input string) (string, error) {
	return "invoked: " + input, nil
}

type executeTarget struct{}

func (executeTarget) Execute(ctx context.Context, input string) (string, error) {
	return "executed: " + input, nil
}

type callTarget struct{}

func (callTarget) Call(ctx context.Context, input string) (string, error) {
	return "called: " + input, nil
}

type invokeAndCallTarget struct{}

func (invokeAndCallTarget) Invoke(ctx context.Context, input string) (string, error) {
	return "invoked", nil
}

func (invokeAndCallTarget) Call(ctx context.Context, input string) (string, error) {
	return "called", nil
}

func TestHandoffToNativeAgent(t *testing.T) {
	source := newAgent("source")
	target := newAgent("target")

	result, err := Handoff(context.Background(), source, target, "take over", Options{
		Metadata: map[string]any{"reason": "escalation"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.HandoffID)
	assert.Equal(t, "reply: take over", result.Response)

	// The handoff record landed in the target's memory.
	snapshot, err := target.memory.Snapshot()
	require.NoError(t, err)
	history, ok := snapshot["handoff_history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)

	record, ok := history[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "system", record["role"])
	assert.Equal(t, "source", record["source_id"])
	assert.Equal(t, "take over", record["message"])
	assert.Equal(t, result.HandoffID, record["handoff_id"])
}

func TestHandoffShapeProbing(t *testing.T) {
	tests := []struct {
		name     string
		target   any
		expected string
	}{
		{"invoke shape", invokeTarget{}, "invoked: msg"},
		{"execute shape", executeTarget{}, "executed: msg"},
		{"call shape", callTarget{}, "called: msg"},
		{"invoke wins over call", invokeAndCallTarget{}, "invoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Handoff(context.Background(), newAgent("source"), tt.target, "msg", Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Response)
		})
	}
}

func TestHandoffUnsupportedTarget(t *testing.T) {
	_, err := Handoff(context.Background(), newAgent("source"), struct{}{}, "msg", Options{})
	assert.True(t, types.IsCode(err, types.CodeUnsupportedTarget))
}

func TestHandoffTimeout(t *testing.T) {
	target := newAgent("slow")
	target.runFn = func(ctx context.Context, query string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	start := time.Now()
	_, err := Handoff(context.Background(), newAgent("source"), target, "msg", Options{
		Timeout: 20 * time.Millisecond,
	})
	assert.True(t, types.IsCode(err, types.CodeTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandoffNilSource(t *testing.T) {
	result, err := Handoff(context.Background(), nil, invokeTarget{}, "msg", Options{})
	require.NoError(t, err)
	assert.Equal(t, "invoked: msg", result.Response)
}
