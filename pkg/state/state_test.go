package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrow-io/burrow/pkg/types"
)

func sampleState(agentID string) *types.AgentState {
	return &types.AgentState{
		AgentID:   agentID,
		AgentType: "echo",
		Status:    types.AgentReady,
		Timestamp: 1700000000,
		ConversationHistory: map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "hello"},
			},
		},
		Metadata:   map[string]any{"name": "echo-agent"},
		Config:     map[string]any{},
		CustomData: map[string]any{},
	}
}

func TestFileProviderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileProvider(dir)
	ctx := context.Background()

	require.NoError(t, provider.Initialize(ctx))

	s := sampleState("a1")
	require.NoError(t, provider.Save(ctx, s))

	// The file exists at <dir>/<agent_id>.json.
	_, err := os.Stat(filepath.Join(dir, "a1.json"))
	require.NoError(t, err)

	ids, err := provider.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	loaded, err := provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	require.NoError(t, provider.Delete(ctx, "a1"))

	loaded, err = provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileProviderMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileProvider(dir)
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))

	// Malformed state loads as absent, not as an error.
	loaded, err := provider.Load(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileProviderRejectsPathSeparators(t *testing.T) {
	provider := NewFileProvider(t.TempDir())
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))

	_, err := provider.Load(ctx, "../escape")
	assert.True(t, types.IsCode(err, types.CodeStateIO))

	err = provider.Save(ctx, sampleState("a/b"))
	assert.True(t, types.IsCode(err, types.CodeStateIO))
}

func TestFileProviderListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileProvider(dir)
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))

	require.NoError(t, provider.Save(ctx, sampleState("a1")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	ids, err := provider.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)
}

func TestMemoryProviderRoundTrip(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))

	s := sampleState("a1")
	require.NoError(t, provider.Save(ctx, s))

	loaded, err := provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	ids, err := provider.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	require.NoError(t, provider.Delete(ctx, "a1"))
	loaded, err = provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryProviderMissingAgent(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()

	loaded, err := provider.Load(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBoltProviderRoundTrip(t *testing.T) {
	provider := NewBoltProvider(t.TempDir())
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))
	defer provider.Close()

	s := sampleState("a1")
	require.NoError(t, provider.Save(ctx, s))

	loaded, err := provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	ids, err := provider.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	require.NoError(t, provider.Delete(ctx, "a1"))
	loaded, err = provider.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveLoadSaveStable(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileProvider(dir)
	ctx := context.Background()
	require.NoError(t, provider.Initialize(ctx))

	s := sampleState("a1")
	require.NoError(t, provider.Save(ctx, s))

	loaded, err := provider.Load(ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, provider.Save(ctx, loaded))
	first, err := os.ReadFile(filepath.Join(dir, "a1.json"))
	require.NoError(t, err)

	require.NoError(t, provider.Save(ctx, loaded))
	second, err := os.ReadFile(filepath.Join(dir, "a1.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
