package coordpart

import "testing"

func TestRankOfFindsOwningRange(t *testing.T) {
	dist := []int64{0, 10, 25, 40}
	cases := []struct {
		x    int64
		want int
	}{
		{0, 0}, {9, 0}, {10, 1}, {24, 1}, {25, 2}, {39, 2},
	}
	for _, c := range cases {
		if got := rankOf(c.x, dist); got != c.want {
			t.Fatalf("rankOf(%d) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestRankBucketRespectsSentinels(t *testing.T) {
	splitters := []ikv{
		{Key: -1 << 62, Val: -1 << 62},
		{Key: 10, Val: 3},
		{Key: 20, Val: 7},
		{Key: 1 << 62, Val: 1 << 62},
	}
	cases := []struct {
		rec  ikv
		want int
	}{
		{ikv{Key: -1000, Val: 0}, 0},
		{ikv{Key: 5, Val: 99}, 0},
		{ikv{Key: 10, Val: 2}, 0}, // tied key, val below the splitter's
		{ikv{Key: 10, Val: 3}, 1},
		{ikv{Key: 15, Val: 0}, 1},
		{ikv{Key: 20, Val: 6}, 1}, // tied key again
		{ikv{Key: 20, Val: 7}, 2},
		{ikv{Key: 1000000, Val: 0}, 2},
	}
	for _, c := range cases {
		if got := rankBucket(c.rec, splitters); got != c.want {
			t.Fatalf("rankBucket(%+v) = %d, want %d", c.rec, got, c.want)
		}
	}
}

func TestRankBucketSpreadsIdenticalKeys(t *testing.T) {
	// With every key identical, the val tie-break alone must still route
	// records across all buckets instead of collapsing them into the last
	// one.
	splitters := []ikv{
		{Key: -1 << 62, Val: -1 << 62},
		{Key: 0, Val: 4},
		{Key: 0, Val: 8},
		{Key: 1 << 62, Val: 1 << 62},
	}
	counts := make([]int, 3)
	for v := int64(0); v < 12; v++ {
		counts[rankBucket(ikv{Key: 0, Val: v}, splitters)]++
	}
	for b, c := range counts {
		if c != 4 {
			t.Fatalf("bucket %d received %d records, want 4 (counts %v)", b, c, counts)
		}
	}
}

func TestEncodeDecodeIKVRoundTrips(t *testing.T) {
	recs := []ikv{{Key: 5, Val: 9}, {Key: -3, Val: 100}}
	buf := encodeIKV(recs)
	got := decodeIKV(buf)
	if len(got) != len(recs) {
		t.Fatalf("expected %d records, got %d", len(recs), len(got))
	}
	for i := range recs {
		if got[i] != recs[i] {
			t.Fatalf("record %d: expected %+v, got %+v", i, recs[i], got[i])
		}
	}
}

func TestEncodeDecodeInt64sRoundTrips(t *testing.T) {
	vs := []int64{1, -2, 3, -4}
	buf := encodeInt64s(vs)
	got := decodeInt64s(buf)
	if len(got) != len(vs) {
		t.Fatalf("expected %d values, got %d", len(vs), len(got))
	}
	for i := range vs {
		if got[i] != vs[i] {
			t.Fatalf("value %d: expected %d, got %d", i, vs[i], got[i])
		}
	}
}
