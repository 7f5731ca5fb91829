package cluster

import (
	"sort"

	"github.com/burrow-io/burrow/pkg/types"
)

// SelectNode picks the online node best able to admit an agent with the
// given limits: the smallest sum of memory and cpu utilisation ratios after
// admission, ties broken by lexicographic node id. It is a pure function of
// the roster snapshot and the requested limits.
func SelectNode(nodes []*types.NodeInfo, limits *types.ResourceLimits) (string, error) {
	var requestedMemory, requestedCPU float64
	if limits != nil {
		requestedMemory = limits.MaxMemoryMB
		requestedCPU = limits.MaxCPUPercent
	}

	candidates := make([]*types.NodeInfo, 0, len(nodes))
	for _, node := range nodes {
		if node.Status == types.NodeOnline {
			candidates = append(candidates, node)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NodeID < candidates[j].NodeID
	})

	bestID := ""
	bestScore := 0.0

	for _, node := range candidates {
		memRatio, memOK := admissionRatio(node.Resources.MemoryMB, requestedMemory, node.Resources.MemoryCapacityMB)
		cpuRatio, cpuOK := admissionRatio(node.Resources.CPUPercent, requestedCPU, node.Resources.CPUCapacityPercent)
		if !memOK || !cpuOK {
			continue
		}

		score := memRatio + cpuRatio
		if bestID == "" || score < bestScore {
			bestID = node.NodeID
			bestScore = score
		}
	}

	if bestID == "" {
		return "", types.NewError(types.CodeUnavailable, "no eligible node for placement")
	}
	return bestID, nil
}

// admissionRatio computes the node's utilisation ratio after admitting the
// requested amount. A node that reported no capacity is unbounded and
// contributes a zero ratio.
func admissionRatio(used, requested, capacity float64) (float64, bool) {
	if capacity <= 0 {
		return 0, true
	}
	ratio := (used + requested) / capacity
	return ratio, ratio <= 1.0
}
