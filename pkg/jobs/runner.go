package jobs

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/coordpart/coordpart/internal/arena"
	"github.com/coordpart/coordpart/pkg/coordpart"
	"github.com/coordpart/coordpart/pkg/messaging"
)

// rankOutcome is one simulated rank's contribution to a RunSimulated call:
// the part label it computed for each vertex it owns, and the coordinates
// it generated (kept around for the locality diagnostic pass).
type rankOutcome struct {
	where []int
	xyz   []float64
	err   error
}

// RunSimulated executes job's partition request end to end: it generates
// synthetic coordinates from seed, spins up job.Ranks simulated ranks on
// pkg/messaging.Local (one goroutine per rank sharing a single in-process
// hub, the same substrate pkg/coordpart's tests run against), runs
// CoordinatePartition concurrently on every rank, and folds the results
// into a Result. It stands in for launching job.Ranks real OS processes
// against pkg/api/grpc's fabric listener, the way the CLI's `simulate`
// subcommand exercises the core without a cluster.
func RunSimulated(job *Job, opts coordpart.Options, seed int64) (Result, error) {
	ranks := job.Ranks
	ndims := job.Dimensions
	gnvtxs := job.GNVtxs
	if ranks <= 0 || ndims <= 0 || gnvtxs <= 0 {
		return Result{}, fmt.Errorf("jobs: RunSimulated requires positive Ranks, Dimensions and GNVtxs")
	}

	vtxdist := make([]int64, ranks+1)
	for r := 0; r <= ranks; r++ {
		vtxdist[r] = int64(r) * gnvtxs / int64(ranks)
	}

	substrates := messaging.NewLocalGroup(ranks)
	outcomes := make([]rankOutcome, ranks)

	var wg sync.WaitGroup
	wg.Add(ranks)
	for r := 0; r < ranks; r++ {
		r := r
		go func() {
			defer wg.Done()
			nvtxs := int(vtxdist[r+1] - vtxdist[r])
			src := rand.New(rand.NewSource(seed + int64(r)))
			xyz := make([]float64, nvtxs*ndims)
			for i := range xyz {
				xyz[i] = src.Float64()
			}

			ctrl := &coordpart.Control{Substrate: substrates[r], Arena: arena.New()}
			graph := &coordpart.Graph{
				NVtxs:   nvtxs,
				GNVtxs:  gnvtxs,
				VtxDist: vtxdist,
				NEdges:  int64(nvtxs) * 2,
			}

			err := coordpart.CoordinatePartition(ctrl, graph, ndims, xyz, true, opts)
			outcomes[r] = rankOutcome{where: graph.Where, xyz: xyz, err: err}
		}()
	}
	wg.Wait()

	for r, o := range outcomes {
		if o.err != nil {
			return Result{}, fmt.Errorf("jobs: rank %d: %w", r, o.err)
		}
	}

	partSizes := make([]int64, ranks)
	for r, o := range outcomes {
		for i, part := range o.where {
			if part < 0 || part >= ranks {
				return Result{}, fmt.Errorf("jobs: rank %d vertex %d has out-of-range part %d", r, i, part)
			}
			partSizes[part]++
		}
	}

	avg, err := averageLocalityAcrossRanks(substrates, outcomes, vtxdist, gnvtxs, ndims)
	if err != nil {
		return Result{}, err
	}

	return Result{PartSizes: partSizes, AvgPairwiseDistance: avg}, nil
}

// averageLocalityAcrossRanks re-runs the collective locality diagnostic
// (coordpart.AveragePairwiseDistance) for part 0 concurrently on every
// rank, since that diagnostic is itself a collective operation requiring
// every rank's participation.
func averageLocalityAcrossRanks(substrates []*messaging.Local, outcomes []rankOutcome, vtxdist []int64, gnvtxs int64, ndims int) (float64, error) {
	ranks := len(substrates)
	results := make([]float64, ranks)
	errs := make([]error, ranks)

	var wg sync.WaitGroup
	wg.Add(ranks)
	for r := 0; r < ranks; r++ {
		r := r
		go func() {
			defer wg.Done()
			ctrl := &coordpart.Control{Substrate: substrates[r], Arena: arena.New()}
			graph := &coordpart.Graph{
				NVtxs:   len(outcomes[r].where),
				GNVtxs:  gnvtxs,
				VtxDist: vtxdist,
				Where:   outcomes[r].where,
			}
			d, err := coordpart.AveragePairwiseDistance(ctrl, graph, ndims, outcomes[r].xyz, 0)
			results[r] = d
			errs[r] = err
		}()
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			return 0, fmt.Errorf("jobs: locality diagnostic on rank %d: %w", r, err)
		}
	}
	return results[0], nil
}
