package jobs

import (
	"testing"

	"github.com/coordpart/coordpart/pkg/coordpart"
)

func TestRunSimulatedBalancesParts(t *testing.T) {
	m := NewManager()
	job, err := m.Submit("demo", UnlimitedQuota(), 400, 4, 3)
	if err != nil {
		t.Fatal(err)
	}

	result, err := RunSimulated(job, coordpart.DefaultOptions(), 7)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.PartSizes) != 4 {
		t.Fatalf("expected 4 part sizes, got %d", len(result.PartSizes))
	}
	var total int64
	for _, sz := range result.PartSizes {
		if sz != 100 {
			t.Errorf("expected each part to hold exactly 100 vertices, got %d", sz)
		}
		total += sz
	}
	if total != job.GNVtxs {
		t.Errorf("expected part sizes to sum to %d, got %d", job.GNVtxs, total)
	}
	if result.AvgPairwiseDistance < 0 {
		t.Errorf("expected non-negative average pairwise distance, got %f", result.AvgPairwiseDistance)
	}
}

func TestRunSimulatedRejectsIncompleteJob(t *testing.T) {
	job := &Job{Ranks: 0, Dimensions: 3, GNVtxs: 100}
	if _, err := RunSimulated(job, coordpart.DefaultOptions(), 1); err == nil {
		t.Fatal("expected error for zero ranks")
	}
}

func TestRunSimulatedDeterministic(t *testing.T) {
	m := NewManager()
	job1, _ := m.Submit("a", UnlimitedQuota(), 200, 2, 2)
	job2, _ := m.Submit("b", UnlimitedQuota(), 200, 2, 2)

	r1, err := RunSimulated(job1, coordpart.DefaultOptions(), 42)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := RunSimulated(job2, coordpart.DefaultOptions(), 42)
	if err != nil {
		t.Fatal(err)
	}
	for i := range r1.PartSizes {
		if r1.PartSizes[i] != r2.PartSizes[i] {
			t.Errorf("expected identical part sizes for identical seed, got %v vs %v", r1.PartSizes, r2.PartSizes)
		}
	}
	if r1.AvgPairwiseDistance != r2.AvgPairwiseDistance {
		t.Errorf("expected identical locality diagnostic for identical seed, got %f vs %f", r1.AvgPairwiseDistance, r2.AvgPairwiseDistance)
	}
}
