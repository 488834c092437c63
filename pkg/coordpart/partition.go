package coordpart

import "github.com/coordpart/coordpart/internal/arena"

// CoordinatePartition assigns every vertex graph owns locally to one of
// ctrl.Size() parts based on its position in xyz, a flattened ndims-wide
// array of per-vertex coordinates (vertex i's axis k coordinate is
// xyz[i*ndims+k]). It writes the result into graph.Where, allocating it
// if needed, and leaves graph.Where undefined on every rank if any rank
// returns a non-nil error.
//
// When setup is true the caller is asking for fresh ghost-communication
// bookkeeping; this package does not model graph adjacency, so the only
// observable effect is that graph.NRecv is left untouched instead of
// reset to 0.
func CoordinatePartition(ctrl *Control, graph *Graph, ndims int, xyz []float64, setup bool, opts Options) error {
	const op = "CoordinatePartition"

	if err := opts.Validate(); err != nil {
		return err
	}
	if ndims <= 0 {
		return fatalf(op, nil, "ndims must be > 0, got %d", ndims)
	}
	if len(xyz) != graph.NVtxs*ndims {
		return fatalf(op, nil, "xyz length %d does not match NVtxs*ndims (%d*%d)", len(xyz), graph.NVtxs, ndims)
	}
	if len(graph.VtxDist) != ctrl.Size()+1 {
		return fatalf(op, nil, "VtxDist length %d does not match Size+1 (%d)", len(graph.VtxDist), ctrl.Size()+1)
	}

	if !setup {
		graph.NRecv = 0
	}

	defer arena.Guard(ctrl.Arena)()

	bins := make([][]int, ndims)
	for k := 0; k < ndims; k++ {
		values := make([]float64, graph.NVtxs)
		for i := 0; i < graph.NVtxs; i++ {
			values[i] = xyz[i*ndims+k]
		}
		b, err := BinAxis(ctrl, values, opts)
		if err != nil {
			return err
		}
		bins[k] = b
	}

	keys := ZOrderKeys(bins, opts.NBits)

	switch opts.Strategy {
	case SampleSortStrict:
		return SampleSort(ctrl, graph, keys)
	default:
		return PseudoSampleSort(ctrl, graph, keys, opts)
	}
}
