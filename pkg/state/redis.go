package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/burrow-io/burrow/pkg/types"
)

const redisKeyPrefix = "burrow:state:"

// RedisProvider stores agent states in Redis. This is the provider that
// makes cross-node migration state-sharing real: every node in the cluster
// reads and writes the same keyspace.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider creates a provider against a Redis address.
func NewRedisProvider(addr string) *RedisProvider {
	return &RedisProvider{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// NewRedisProviderWithClient wraps an existing client.
func NewRedisProviderWithClient(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// Initialize verifies connectivity.
func (p *RedisProvider) Initialize(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to connect to redis")
	}
	return nil
}

// Save writes the JSON-encoded state under burrow:state:<agent_id>.
func (p *RedisProvider) Save(ctx context.Context, state *types.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to encode state for agent %s", state.AgentID)
	}

	if err := p.client.Set(ctx, redisKeyPrefix+state.AgentID, data, 0).Err(); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to save state for agent %s", state.AgentID)
	}
	return nil
}

// Load returns the stored state, or nil if absent.
func (p *RedisProvider) Load(ctx context.Context, agentID string) (*types.AgentState, error) {
	data, err := p.client.Get(ctx, redisKeyPrefix+agentID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, types.WrapError(types.CodeStateIO, err, "failed to load state for agent %s", agentID)
	}

	var state types.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, types.WrapError(types.CodeStateIO, err, "failed to decode state for agent %s", agentID)
	}
	return &state, nil
}

// Delete removes the stored state if present.
func (p *RedisProvider) Delete(ctx context.Context, agentID string) error {
	if err := p.client.Del(ctx, redisKeyPrefix+agentID).Err(); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to delete state for agent %s", agentID)
	}
	return nil
}

// List returns every agent id with a stored state. The keyspace is small
// (one key per agent), so KEYS is acceptable here.
func (p *RedisProvider) List(ctx context.Context) ([]string, error) {
	keys, err := p.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return nil, types.WrapError(types.CodeStateIO, err, "failed to list states")
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, redisKeyPrefix))
	}
	return ids, nil
}

// Close closes the client connection.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
