package state

import (
	"context"
	"sync"

	"github.com/burrow-io/burrow/pkg/types"
)

// MemoryProvider holds agent states in process memory. Suitable for
// development, tests, and single-process deployments.
type MemoryProvider struct {
	mu     sync.RWMutex
	states map[string]*types.AgentState
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{states: make(map[string]*types.AgentState)}
}

// Initialize is a no-op for the in-memory provider.
func (p *MemoryProvider) Initialize(ctx context.Context) error {
	return nil
}

// Save stores a copy of the state.
func (p *MemoryProvider) Save(ctx context.Context, state *types.AgentState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *state
	p.states[state.AgentID] = &copied
	return nil
}

// Load returns the stored state, or nil if absent.
func (p *MemoryProvider) Load(ctx context.Context, agentID string) (*types.AgentState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.states[agentID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// Delete removes the stored state if present.
func (p *MemoryProvider) Delete(ctx context.Context, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, agentID)
	return nil
}

// List returns every agent id with a stored state.
func (p *MemoryProvider) List(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op for the in-memory provider.
func (p *MemoryProvider) Close() error {
	return nil
}
