package coordpart

import "testing"

func TestZOrderMonotoneWithinLeadingAxis(t *testing.T) {
	// Axis 0's bit at position nbits-1 becomes the key's most significant
	// bit, so the vertex whose leading-axis bin has that bit clear must
	// sort first, whatever the other axis and the lower bits hold.
	nbits := 4
	lo := ZOrderKey([]int{0b0011, 0b1111}, nbits)
	hi := ZOrderKey([]int{0b1000, 0b0000}, nbits)
	if !(lo < hi) {
		t.Fatalf("expected key with smaller leading-axis bin to sort first: lo=%d hi=%d", lo, hi)
	}
}

func TestZOrderKeyDeterministic(t *testing.T) {
	row := []int{5, 2, 9}
	a := ZOrderKey(row, 4)
	b := ZOrderKey(row, 4)
	if a != b {
		t.Fatalf("expected deterministic key, got %d and %d", a, b)
	}
}

func TestZOrderKeysMatchesPerVertex(t *testing.T) {
	bins := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
	}
	keys := ZOrderKeys(bins, 2)
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys, got %d", len(keys))
	}
	for i := 0; i < 4; i++ {
		want := ZOrderKey([]int{bins[0][i], bins[1][i]}, 2)
		if keys[i] != want {
			t.Fatalf("vertex %d: expected key %d, got %d", i, want, keys[i])
		}
	}
}

func TestZOrderKeysEmptyAxes(t *testing.T) {
	if keys := ZOrderKeys(nil, 4); keys != nil {
		t.Fatalf("expected nil keys for zero axes, got %v", keys)
	}
}
