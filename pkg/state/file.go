package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
	"github.com/burrow-io/burrow/pkg/types"
)

// FileProvider stores one JSON document per agent at <dir>/<agent_id>.json.
// Writes are whole-file replacements; a malformed or missing file loads as
// absent rather than failing the caller.
type FileProvider struct {
	dir    string
	logger zerolog.Logger
}

// NewFileProvider creates a provider rooted at dir. The directory is created
// by Initialize.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{
		dir:    dir,
		logger: log.WithComponent("state-file"),
	}
}

// Initialize creates the state directory if absent.
func (p *FileProvider) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to create state directory %s", p.dir)
	}
	return nil
}

// path validates the agent id and returns its state file path. Agent ids are
// opaque strings but must not contain path separators.
func (p *FileProvider) path(agentID string) (string, error) {
	if agentID == "" || strings.ContainsAny(agentID, `/\`) {
		return "", types.NewError(types.CodeStateIO, "invalid agent id %q", agentID)
	}
	return filepath.Join(p.dir, agentID+".json"), nil
}

// Save writes the state as a whole-file replacement.
func (p *FileProvider) Save(ctx context.Context, state *types.AgentState) error {
	path, err := p.path(state.AgentID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to encode state for agent %s", state.AgentID)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return types.WrapError(types.CodeStateIO, err, "failed to write state for agent %s", state.AgentID)
	}
	return nil
}

// Load reads the state file. A missing file and malformed JSON both return
// absent; the latter is logged.
func (p *FileProvider) Load(ctx context.Context, agentID string) (*types.AgentState, error) {
	path, err := p.path(agentID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.CodeStateIO, err, "failed to read state for agent %s", agentID)
	}

	var state types.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		p.logger.Error().Err(err).Str("agent_id", agentID).Msg("Invalid state file, treating as absent")
		return nil, nil
	}
	return &state, nil
}

// Delete removes the state file if present.
func (p *FileProvider) Delete(ctx context.Context, agentID string) error {
	path, err := p.path(agentID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.CodeStateIO, err, "failed to delete state for agent %s", agentID)
	}
	return nil
}

// List enumerates *.json files in the state directory and strips the suffix.
func (p *FileProvider) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.CodeStateIO, err, "failed to list state directory %s", p.dir)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Close is a no-op for the file provider.
func (p *FileProvider) Close() error {
	return nil
}
