package coordpart

// ZOrderKey interleaves one vertex's per-axis bin indices into a single
// Z-order (Morton) key, MSB first: for each bit position from nbits-1
// down to 0, it appends that bit of axis 0's bin index, then axis 1's,
// and so on through the last axis. Vertices whose bin indices agree on
// their high bits across every axis therefore land close together in
// key order, which is what lets the downstream sort turn spatial
// locality into part locality.
func ZOrderKey(binIdx []int, nbits int) int64 {
	var key int64
	for j := nbits - 1; j >= 0; j-- {
		for _, b := range binIdx {
			key = (key << 1) | int64((b>>uint(j))&1)
		}
	}
	return key
}

// ZOrderKeys computes ZOrderKey for every vertex, given bins[axis][vtx]
// bin indices across len(bins) axes. All axis slices must have the same
// length.
func ZOrderKeys(bins [][]int, nbits int) []int64 {
	ndims := len(bins)
	if ndims == 0 {
		return nil
	}
	nvtxs := len(bins[0])
	keys := make([]int64, nvtxs)
	row := make([]int, ndims)
	for i := 0; i < nvtxs; i++ {
		for k := 0; k < ndims; k++ {
			row[k] = bins[k][i]
		}
		keys[i] = ZOrderKey(row, nbits)
	}
	return keys
}
