package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/burrow-io/burrow/pkg/types"
)

var bucketAgentStates = []byte("agent_states")

// BoltProvider stores agent states in a single BoltDB file. One bucket, key
// is the agent id, value is the JSON-encoded state.
type BoltProvider struct {
	dataDir string

	mu sync.Mutex
	db *bolt.DB
}

// NewBoltProvider creates a provider whose database lives under dataDir.
func NewBoltProvider(dataDir string) *BoltProvider {
	return &BoltProvider{dataDir: dataDir}
}

// Initialize opens the database and creates the bucket.
func (p *BoltProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return nil
	}

	if err := os.MkdirAll(p.dataDir, 0755); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to create data directory %s", p.dataDir)
	}

	db, err := bolt.Open(filepath.Join(p.dataDir, "burrow-state.db"), 0600, nil)
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to open state database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAgentStates)
		return err
	})
	if err != nil {
		db.Close()
		return types.WrapError(types.CodeStateIO, err, "failed to create state bucket")
	}

	p.db = db
	return nil
}

// Save upserts the JSON-encoded state under the agent id.
func (p *BoltProvider) Save(ctx context.Context, state *types.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to encode state for agent %s", state.AgentID)
	}

	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentStates).Put([]byte(state.AgentID), data)
	})
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to save state for agent %s", state.AgentID)
	}
	return nil
}

// Load returns the stored state, or nil if absent.
func (p *BoltProvider) Load(ctx context.Context, agentID string) (*types.AgentState, error) {
	var state *types.AgentState
	err := p.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgentStates).Get([]byte(agentID))
		if data == nil {
			return nil
		}
		var s types.AgentState
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		state = &s
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.CodeStateIO, err, "failed to load state for agent %s", agentID)
	}
	return state, nil
}

// Delete removes the stored state if present.
func (p *BoltProvider) Delete(ctx context.Context, agentID string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentStates).Delete([]byte(agentID))
	})
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to delete state for agent %s", agentID)
	}
	return nil
}

// List returns every agent id with a stored state.
func (p *BoltProvider) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentStates).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, types.WrapError(types.CodeStateIO, err, "failed to list states")
	}
	return ids, nil
}

// Close closes the database.
func (p *BoltProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
