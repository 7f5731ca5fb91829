package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrow-io/burrow/pkg/types"
)

func node(id string, status types.NodeStatus, usedMB, capMB float64) *types.NodeInfo {
	return &types.NodeInfo{
		NodeID: id,
		Status: status,
		Resources: types.NodeResources{
			MemoryMB:         usedMB,
			MemoryCapacityMB: capMB,
		},
	}
}

func TestSelectNodePicksLowestUtilisation(t *testing.T) {
	nodes := []*types.NodeInfo{
		node("w1", types.NodeOnline, 800, 1000),
		node("w2", types.NodeOnline, 100, 1000),
	}

	selected, err := SelectNode(nodes, &types.ResourceLimits{MaxMemoryMB: 50})
	require.NoError(t, err)
	assert.Equal(t, "w2", selected)
}

func TestSelectNodeTieBreaksLexicographically(t *testing.T) {
	nodes := []*types.NodeInfo{
		node("w2", types.NodeOnline, 0, 1000),
		node("w1", types.NodeOnline, 0, 1000),
	}

	selected, err := SelectNode(nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, "w1", selected)
}

func TestSelectNodeSkipsOfflineNodes(t *testing.T) {
	nodes := []*types.NodeInfo{
		node("w1", types.NodeOffline, 0, 1000),
		node("w2", types.NodeOnline, 500, 1000),
	}

	selected, err := SelectNode(nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, "w2", selected)
}

func TestSelectNodeRejectsOverCapacity(t *testing.T) {
	nodes := []*types.NodeInfo{
		node("w1", types.NodeOnline, 950, 1000),
	}

	// Admission would push w1 past its capacity.
	_, err := SelectNode(nodes, &types.ResourceLimits{MaxMemoryMB: 100})
	assert.True(t, types.IsCode(err, types.CodeUnavailable))
}

func TestSelectNodeUnboundedCapacity(t *testing.T) {
	// A node that reported no capacity admits anything.
	nodes := []*types.NodeInfo{
		node("w1", types.NodeOnline, 0, 0),
	}

	selected, err := SelectNode(nodes, &types.ResourceLimits{MaxMemoryMB: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, "w1", selected)
}

func TestSelectNodeNoNodes(t *testing.T) {
	_, err := SelectNode(nil, nil)
	assert.True(t, types.IsCode(err, types.CodeUnavailable))
}

func TestSelectNodeDeterministic(t *testing.T) {
	nodes := []*types.NodeInfo{
		node("w3", types.NodeOnline, 10, 1000),
		node("w1", types.NodeOnline, 10, 1000),
		node("w2", types.NodeOnline, 10, 1000),
	}

	first, err := SelectNode(nodes, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SelectNode(nodes, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
