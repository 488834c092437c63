// Package coordpart assigns vertices of a distributed graph to processes
// based on their spatial coordinates, so that spatially close vertices
// tend to land on the same part and every part receives a near-equal
// share of vertices. It runs a three-stage pipeline: per-axis bin boundary
// refinement, Z-order key construction, and a distributed sample sort
// that turns globally sorted keys into balanced part labels.
package coordpart

import (
	"github.com/coordpart/coordpart/internal/arena"
	"github.com/coordpart/coordpart/pkg/messaging"
	"github.com/coordpart/coordpart/pkg/observability"
)

// Graph is the distributed graph the partitioner assigns. Vertices are
// split across ranks exactly as VtxDist describes: rank r owns vertices
// numbered VtxDist[r]..VtxDist[r+1]-1 globally, stored locally as
// indices 0..NVtxs-1.
type Graph struct {
	// NVtxs is the number of vertices this rank owns.
	NVtxs int
	// GNVtxs is the total vertex count across all ranks.
	GNVtxs int64
	// VtxDist is the vertex distribution array of length Size+1:
	// VtxDist[r] is the global index of rank r's first vertex.
	VtxDist []int64
	// NEdges is the number of local edges, used only to size
	// PseudoSampleSort's sample count.
	NEdges int64
	// NRecv is non-zero once CommSetup-equivalent bookkeeping has run;
	// CoordinatePartition resets it to 0 when setup is not requested.
	NRecv int

	// Where receives the part assignment for each local vertex, indexed
	// the same way as the rank's local vertex numbering. CoordinatePartition
	// allocates it if nil.
	Where []int
}

// Control carries the process's identity within the job and its private
// scratch arena. Every rank constructs its Control the same way, so a
// CoordinatePartition call sees an identical view of the job everywhere.
type Control struct {
	Substrate messaging.Substrate
	Arena     *arena.Arena
	// JobID identifies the partition job this Control belongs to, for
	// logging; it may be empty when running outside a job (e.g. direct
	// tests), in which case log calls fall back to an unscoped logger.
	JobID string
	// Logger receives phase and iteration diagnostics; nil disables
	// logging entirely rather than falling back to the global logger, so
	// tests never contend on shared output.
	Logger *observability.Logger
}

// Rank returns this process's rank.
func (c *Control) Rank() int { return c.Substrate.Rank() }

// Size returns the number of ranks participating in the job.
func (c *Control) Size() int { return c.Substrate.Size() }

// log returns a logger scoped to this Control's job and rank, or nil if no
// logger was configured.
func (c *Control) log() *observability.Logger {
	if c.Logger == nil {
		return nil
	}
	return c.Logger.WithJob(c.JobID, c.Rank())
}

// ikv pairs an integer key with a vertex index, the record type exchanged
// by the sample sort once coordinates have been reduced to Z-order keys.
type ikv struct {
	Key int64
	Val int64
}

// rkv pairs a real-valued key with a vertex index, the record type the
// bin boundary refiner sorts one axis at a time.
type rkv struct {
	Key float64
	Val int64
}

// Options configures the partitioner's tunable constants. A zero Options
// is invalid; call Options.Validate or start from DefaultOptions.
type Options struct {
	// NBits is the number of bits used per axis when binning coordinates,
	// giving NBins = 1<<NBits buckets per axis.
	NBits int
	// RefineIterations caps how many histogram refinement passes
	// RefineBins runs before accepting whatever balance it has reached.
	RefineIterations int
	// BalanceTolerance is the acceptable multiple of the perfectly even
	// per-bucket share; refinement stops early once every bucket's count
	// is below BalanceTolerance * GNVtxs / NBins.
	BalanceTolerance float64
	// MinSamples is PseudoSampleSort's floor on how many local samples
	// each rank contributes, before the (possibly overriding) density
	// based recomputation.
	MinSamples int
	// Strategy selects which sample sort variant CoordinatePartition
	// uses to turn sorted keys into balanced labels.
	Strategy SortStrategy
	// BinStrategy selects which bin-boundary algorithm refines the
	// per-axis histograms.
	BinStrategy BinStrategy
}

// SortStrategy names a DistributedSampleSort variant.
type SortStrategy int

const (
	// SampleSortStrict takes Size-1 local samples per rank (at least one).
	SampleSortStrict SortStrategy = iota
	// SampleSortPseudo scales the local sample count to edge density,
	// per PseudoSampleSort.
	SampleSortPseudo
)

// BinStrategy names a bin-boundary refinement algorithm.
type BinStrategy int

const (
	// BinIterativeRefine repeatedly nudges a uniform initial histogram
	// toward even bucket occupancy (RefineBins).
	BinIterativeRefine BinStrategy = iota
	// BinRecursiveBisect repeatedly bisects the most-loaded bucket
	// (RecursiveBisectBins).
	BinRecursiveBisect
)

// DefaultOptions returns the calibrated defaults: 9 bits per axis (512
// bins), 5 refinement iterations, a 4x balance tolerance, a floor of 100
// local samples, and the iterative-refine / pseudo-sample-sort pairing.
func DefaultOptions() Options {
	return Options{
		NBits:            9,
		RefineIterations: 5,
		BalanceTolerance: 4.0,
		MinSamples:       100,
		Strategy:         SampleSortPseudo,
		BinStrategy:      BinIterativeRefine,
	}
}

// Validate reports a *FatalError if the options are internally
// inconsistent; CoordinatePartition calls this before doing any work.
func (o Options) Validate() error {
	if o.NBits <= 0 || o.NBits > 31 {
		return &FatalError{Op: "Options.Validate", Msg: "NBits must be in 1..31"}
	}
	if o.RefineIterations < 1 {
		return &FatalError{Op: "Options.Validate", Msg: "RefineIterations must be >= 1"}
	}
	if o.BalanceTolerance <= 0 {
		return &FatalError{Op: "Options.Validate", Msg: "BalanceTolerance must be > 0"}
	}
	if o.MinSamples <= 0 {
		return &FatalError{Op: "Options.Validate", Msg: "MinSamples must be > 0"}
	}
	return nil
}

// NBins is the number of bins per axis under these options.
func (o Options) NBins() int { return 1 << uint(o.NBits) }
