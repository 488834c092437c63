package coordpart

import (
	"context"

	"github.com/coordpart/coordpart/internal/coordmath"
	"github.com/coordpart/coordpart/pkg/messaging"
)

// AveragePairwiseDistance reports the mean Euclidean distance between
// every pair of this rank's local vertices that CoordinatePartition
// placed in the same part, averaged across all ranks. It is a cheap
// locality diagnostic, not a correctness check: lower values indicate
// CoordinatePartition is successfully grouping nearby vertices together,
// but nothing in the partitioner depends on this value.
func AveragePairwiseDistance(ctrl *Control, graph *Graph, ndims int, xyz []float64, part int) (float64, error) {
	const op = "AveragePairwiseDistance"
	if len(xyz) != graph.NVtxs*ndims {
		return 0, fatalf(op, nil, "xyz length %d does not match NVtxs*ndims (%d*%d)", len(xyz), graph.NVtxs, ndims)
	}
	if len(graph.Where) != graph.NVtxs {
		return 0, fatalf(op, nil, "Where length %d does not match NVtxs %d", len(graph.Where), graph.NVtxs)
	}

	var members [][]float64
	for i := 0; i < graph.NVtxs; i++ {
		if graph.Where[i] != part {
			continue
		}
		members = append(members, xyz[i*ndims:i*ndims+ndims])
	}

	var lsum float64
	var lpairs int64
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			lsum += coordmath.EuclideanDistance(members[i], members[j])
			lpairs++
		}
	}

	ctx := context.Background()
	gsum, err := ctrl.Substrate.AllReduceFloat64(ctx, lsum, messaging.Sum)
	if err != nil {
		return 0, fatalf(op, err, "distance sum reduction failed")
	}
	gpairs, err := ctrl.Substrate.AllReduceInt64(ctx, lpairs, messaging.Sum)
	if err != nil {
		return 0, fatalf(op, err, "pair count reduction failed")
	}
	if gpairs == 0 {
		return 0, nil
	}
	return gsum / float64(gpairs), nil
}
