package state

import (
	"context"

	"github.com/burrow-io/burrow/pkg/types"
)

// Provider persists and restores agent state snapshots.
//
// Invariants every implementation upholds: Save then Load yields a value
// equal to the input; Delete then Load yields absent; List contains exactly
// the agent ids with saved snapshots. Load returns (nil, nil) when no
// snapshot exists.
type Provider interface {
	// Initialize prepares the backing store (creates directories, opens
	// connections). Must be called before any other operation.
	Initialize(ctx context.Context) error

	Save(ctx context.Context, state *types.AgentState) error
	Load(ctx context.Context, agentID string) (*types.AgentState, error)
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]string, error)

	Close() error
}
