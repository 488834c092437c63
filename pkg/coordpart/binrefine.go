package coordpart

import (
	"context"
	"math"
	"sort"

	"github.com/coordpart/coordpart/internal/arena"
	"github.com/coordpart/coordpart/pkg/messaging"
)

const epsRel = 1e-8

// epsFor returns a small positive nudge used to push the top bin boundary
// strictly past the global maximum, scaled to the coordinate range, so a
// vertex sitting exactly at gmax still falls inside the last bin instead
// of spilling past it. A purely relative nudge degenerates to zero when
// gmin and gmax are both 0, so the scale always includes an absolute
// floor of 1.
func epsFor(gmin, gmax float64) float64 {
	spread := math.Abs(gmax) + math.Abs(gmin) + 1
	return epsRel * spread
}

func localMinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.Inf(1), math.Inf(-1)
	}
	lmin, lmax := values[0], values[0]
	for _, v := range values[1:] {
		if v < lmin {
			lmin = v
		}
		if v > lmax {
			lmax = v
		}
	}
	return lmin, lmax
}

// RefineBins assigns each local coordinate in values to one of
// opts.NBins() bins along a single axis by iterative histogram
// refinement: start from a uniform split of
// the global coordinate range, then repeatedly nudge bin boundaries
// toward the point where the running global count crosses each bin's
// even share, stopping early once every bin's count is within
// opts.BalanceTolerance of that even share.
func RefineBins(ctrl *Control, values []float64, opts Options) ([]int, error) {
	const op = "RefineBins"
	substrate := ctrl.Substrate
	ctx := context.Background()
	nbins := opts.NBins()

	defer arena.Guard(ctrl.Arena)()

	cand := make([]rkv, len(values))
	for i, v := range values {
		cand[i] = rkv{Key: v, Val: int64(i)}
	}
	sort.Slice(cand, func(i, j int) bool { return cand[i].Key < cand[j].Key })

	lmin, lmax := localMinMax(values)
	gmin, err := substrate.AllReduceFloat64(ctx, lmin, messaging.Min)
	if err != nil {
		return nil, fatalf(op, err, "global min reduction failed")
	}
	gmax, err := substrate.AllReduceFloat64(ctx, lmax, messaging.Max)
	if err != nil {
		return nil, fatalf(op, err, "global max reduction failed")
	}
	gnvtxs, err := substrate.AllReduceInt64(ctx, int64(len(values)), messaging.Sum)
	if err != nil {
		return nil, fatalf(op, err, "global vertex count reduction failed")
	}

	eps := epsFor(gmin, gmax)
	emarkers := make([]float64, nbins+1)
	for i := 0; i <= nbins; i++ {
		emarkers[i] = gmin + (gmax-gmin)*float64(i)/float64(nbins)
	}
	emarkers[nbins] = gmax + eps

	target := gnvtxs / int64(nbins)
	if target == 0 {
		target = 1
	}

	logger := ctrl.log()

	for iter := 0; iter < opts.RefineIterations; iter++ {
		lcounts := sweepCounts(cand, emarkers)
		gcounts, err := substrate.AllReduceInt64Slice(ctx, lcounts, messaging.Sum)
		if err != nil {
			return nil, fatalf(op, err, "bin count reduction failed")
		}

		maxCount := int64(0)
		for _, c := range gcounts {
			if c > maxCount {
				maxCount = c
			}
		}
		if logger != nil {
			logger.LogIteration(op, iter, map[string]interface{}{"max_bin_count": maxCount})
		}
		if float64(maxCount) < opts.BalanceTolerance*float64(gnvtxs)/float64(nbins) {
			break
		}

		// nemarkers starts as a copy of the current boundaries so any
		// marker slot the payout loop below never reaches keeps its already
		// monotonic boundary, rather than an unset zero value.
		nemarkers := make([]float64, nbins+1)
		copy(nemarkers, emarkers)
		csize := int64(0)
		j := 0
		for i := 0; i < nbins-1; i++ {
			// Advance past buckets that fit entirely under the target.
			// Empty buckets are absorbed here, so the interpolation below
			// never divides by a zero count.
			for j < nbins && csize+gcounts[j] < target {
				csize += gcounts[j]
				j++
			}
			if j >= nbins {
				break
			}
			// The i'th even share ends partway through bucket j; place the
			// new marker at the interpolated crossing point. A bucket far
			// over target hosts several consecutive markers this way.
			psize := target - csize
			emarkers[j] += (emarkers[j+1] - emarkers[j]) * float64(psize) / float64(gcounts[j])
			gcounts[j] -= psize
			nemarkers[i+1] = emarkers[j]
			csize = 0
		}
		nemarkers[0] = gmin
		nemarkers[nbins] = gmax + eps
		copy(emarkers, nemarkers)
	}

	bins := make([]int, len(values))
	j := 0
	for _, c := range cand {
		for j < nbins-1 && c.Key >= emarkers[j+1] {
			j++
		}
		bins[c.Val] = j
	}
	return bins, nil
}

// sweepCounts counts how many sorted candidates fall in each of
// len(emarkers)-1 bins in a single linear sweep, since both cand and
// emarkers are sorted ascending.
func sweepCounts(cand []rkv, emarkers []float64) []int64 {
	nbins := len(emarkers) - 1
	counts := make([]int64, nbins)
	j := 0
	for _, c := range cand {
		for j < nbins-1 && c.Key >= emarkers[j+1] {
			j++
		}
		counts[j]++
	}
	return counts
}

// RecursiveBisectBins is the alternative bin-boundary strategy:
// starting from a single split at the global mean, it
// repeatedly bisects whichever bucket currently holds the most vertices
// until opts.NBins() buckets exist.
func RecursiveBisectBins(ctrl *Control, values []float64, opts Options) ([]int, error) {
	const op = "RecursiveBisectBins"
	substrate := ctrl.Substrate
	ctx := context.Background()
	nbins := opts.NBins()

	defer arena.Guard(ctrl.Arena)()

	lmin, lmax := localMinMax(values)
	gmin, err := substrate.AllReduceFloat64(ctx, lmin, messaging.Min)
	if err != nil {
		return nil, fatalf(op, err, "global min reduction failed")
	}
	gmax, err := substrate.AllReduceFloat64(ctx, lmax, messaging.Max)
	if err != nil {
		return nil, fatalf(op, err, "global max reduction failed")
	}
	var lsum float64
	for _, v := range values {
		lsum += v
	}
	gsum, err := substrate.AllReduceFloat64(ctx, lsum, messaging.Sum)
	if err != nil {
		return nil, fatalf(op, err, "global sum reduction failed")
	}
	gnvtxs, err := substrate.AllReduceInt64(ctx, int64(len(values)), messaging.Sum)
	if err != nil {
		return nil, fatalf(op, err, "global vertex count reduction failed")
	}

	eps := epsFor(gmin, gmax)
	mean := gmin
	if gnvtxs > 0 {
		mean = gsum / float64(gnvtxs)
	}
	boundaries := []float64{gmin, mean, gmax + eps}

	for len(boundaries)-1 < nbins {
		lcounts := bucketCounts(values, boundaries)
		gcounts, err := substrate.AllReduceInt64Slice(ctx, lcounts, messaging.Sum)
		if err != nil {
			return nil, fatalf(op, err, "bucket count reduction failed")
		}
		heaviest := 0
		for i, c := range gcounts {
			if c > gcounts[heaviest] {
				heaviest = i
			}
		}
		lo, hi := boundaries[heaviest], boundaries[heaviest+1]
		mid := lo + (hi-lo)/2
		next := make([]float64, 0, len(boundaries)+1)
		next = append(next, boundaries[:heaviest+1]...)
		next = append(next, mid)
		next = append(next, boundaries[heaviest+1:]...)
		boundaries = next
	}

	return assignBuckets(values, boundaries), nil
}

func bucketCounts(values []float64, boundaries []float64) []int64 {
	nbins := len(boundaries) - 1
	counts := make([]int64, nbins)
	for _, v := range values {
		counts[bucketOf(v, boundaries)]++
	}
	return counts
}

func assignBuckets(values []float64, boundaries []float64) []int {
	bins := make([]int, len(values))
	for i, v := range values {
		bins[i] = bucketOf(v, boundaries)
	}
	return bins
}

func bucketOf(v float64, boundaries []float64) int {
	nbins := len(boundaries) - 1
	j := sort.Search(nbins, func(i int) bool { return v < boundaries[i+1] })
	if j >= nbins {
		j = nbins - 1
	}
	return j
}

// BinAxis dispatches to the bin-boundary strategy selected by opts.
func BinAxis(ctrl *Control, values []float64, opts Options) ([]int, error) {
	switch opts.BinStrategy {
	case BinRecursiveBisect:
		return RecursiveBisectBins(ctrl, values, opts)
	default:
		return RefineBins(ctrl, values, opts)
	}
}
