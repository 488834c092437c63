package coordpart

import (
	"sync"
	"testing"

	"github.com/coordpart/coordpart/internal/arena"
	"github.com/coordpart/coordpart/pkg/messaging"
)

func newTestControls(size int) []*Control {
	subs := messaging.NewLocalGroup(size)
	ctrls := make([]*Control, size)
	for i, s := range subs {
		ctrls[i] = &Control{Substrate: s, Arena: arena.New()}
	}
	return ctrls
}

func runOnRanks(size int, fn func(ctrl *Control) error) []error {
	ctrls := newTestControls(size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i, c := range ctrls {
		wg.Add(1)
		go func(i int, c *Control) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	return errs
}

func TestRefineBinsSingleRankUniform(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i)
	}
	opts := DefaultOptions()
	opts.NBits = 3 // 8 bins

	var bins []int
	errs := runOnRanks(1, func(ctrl *Control) error {
		b, err := RefineBins(ctrl, values, opts)
		bins = b
		return err
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	counts := make([]int, opts.NBins())
	for _, b := range bins {
		if b < 0 || b >= opts.NBins() {
			t.Fatalf("bin index %d out of range [0,%d)", b, opts.NBins())
		}
		counts[b]++
	}
	expected := len(values) / opts.NBins()
	for i, c := range counts {
		if c < expected/2 || c > expected*2 {
			t.Fatalf("bin %d count %d far from expected %d", i, c, expected)
		}
	}
}

func TestRefineBinsDistributedMatchesBalance(t *testing.T) {
	size := 4
	perRank := 200
	opts := DefaultOptions()
	opts.NBits = 4 // 16 bins

	allBins := make([][]int, size)
	errs := runOnRanks(size, func(ctrl *Control) error {
		values := make([]float64, perRank)
		base := float64(ctrl.Rank() * perRank)
		for i := range values {
			values[i] = base + float64(i)
		}
		b, err := RefineBins(ctrl, values, opts)
		allBins[ctrl.Rank()] = b
		return err
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	counts := make([]int, opts.NBins())
	total := 0
	for _, bins := range allBins {
		for _, b := range bins {
			counts[b]++
			total++
		}
	}
	if total != size*perRank {
		t.Fatalf("expected %d total assignments, got %d", size*perRank, total)
	}
	expected := total / opts.NBins()
	for i, c := range counts {
		if c > expected*int(opts.BalanceTolerance)+1 {
			t.Fatalf("bin %d count %d exceeds tolerance around expected %d", i, c, expected)
		}
	}
}

func TestRecursiveBisectBinsProducesRequestedBinCount(t *testing.T) {
	values := make([]float64, 500)
	for i := range values {
		values[i] = float64(i) * float64(i)
	}
	opts := DefaultOptions()
	opts.NBits = 3

	var bins []int
	errs := runOnRanks(1, func(ctrl *Control) error {
		b, err := RecursiveBisectBins(ctrl, values, opts)
		bins = b
		return err
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	for _, b := range bins {
		if b < 0 || b >= opts.NBins() {
			t.Fatalf("bin index %d out of range [0,%d)", b, opts.NBins())
		}
	}
}
