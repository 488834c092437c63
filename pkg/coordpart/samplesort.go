package coordpart

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/coordpart/coordpart/internal/arena"
	"github.com/coordpart/coordpart/pkg/messaging"
)

// dataExchangeTag and labelExchangeTag give the two posted-transfer phases
// of sampleSortCore distinct message tags: a later phase's sends can never
// be mistaken for an earlier phase's receives, even without that guarantee
// depending on the intervening wait-all.
const (
	dataExchangeTag  = 1
	labelExchangeTag = 2
)

// exchangeVariableBytes implements a two-step distributed exchange:
// first an AllToAll transpose of each destination's byte
// count (so every rank knows how large a buffer to post), then P
// non-blocking receives posted before P non-blocking sends and a single
// wait-all -- never buffering more than the one reply each peer actually
// sends. send[r] is what this rank sends to rank r; the returned slice's
// r'th entry is what rank r sent back.
func exchangeVariableBytes(ctx context.Context, substrate messaging.Substrate, send [][]byte, tag int) ([][]byte, error) {
	size := substrate.Size()
	rank := substrate.Rank()

	sendCounts := make([][]byte, size)
	for r := 0; r < size; r++ {
		sendCounts[r] = encodeInt64s([]int64{int64(len(send[r]))})
	}
	countBytes, err := substrate.AllToAll(ctx, sendCounts)
	if err != nil {
		return nil, err
	}

	recv := make([][]byte, size)
	recv[rank] = send[rank]

	reqs := make([]messaging.Request, 0, 2*(size-1))
	recvRank := make(map[messaging.Request]int, size-1)
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		recvLen := int(decodeInt64s(countBytes[r])[0])
		req := substrate.IRecv(r, tag, recvLen)
		reqs = append(reqs, req)
		recvRank[req] = r
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		reqs = append(reqs, substrate.ISend(r, tag, send[r]))
	}

	results, err := substrate.WaitAll(ctx, reqs)
	if err != nil {
		return nil, err
	}
	for i, req := range reqs {
		if r, ok := recvRank[req]; ok {
			recv[r] = results[i]
		}
	}
	return recv, nil
}

// sampleSortCore implements the machinery shared by SampleSort and
// PseudoSampleSort: pick nlsamples local samples per rank, derive Size-1
// global splitters from the gathered samples, redistribute records by
// splitter bucket, sort what each rank receives, and turn each record's
// sorted global position into a balanced destination part by walking
// graph.VtxDist -- then route every (vertex, part) label back to
// whichever rank originally owned that vertex, so it can write its own
// graph.Where.
func sampleSortCore(ctrl *Control, graph *Graph, keys []int64, nlsamples int) error {
	const op = "DistributedSampleSort"
	substrate := ctrl.Substrate
	ctx := context.Background()
	size := ctrl.Size()
	rank := ctrl.Rank()

	if len(keys) != graph.NVtxs {
		return fatalf(op, nil, "keys length %d does not match NVtxs %d", len(keys), graph.NVtxs)
	}

	defer arena.Guard(ctrl.Arena)()

	firstLocal := graph.VtxDist[rank]
	cand := make([]ikv, len(keys))
	for i, k := range keys {
		cand[i] = ikv{Key: k, Val: firstLocal + int64(i)}
	}
	sort.Slice(cand, func(i, j int) bool { return lessIKV(cand[i], cand[j]) })

	if nlsamples > len(cand) {
		nlsamples = len(cand)
	}
	// Picks and splitters carry the full (key, val) record, not just the
	// key: ties on key are broken by val everywhere, so even fully
	// degenerate keys still route records across all ranks instead of
	// collapsing into one bucket.
	mypicks := make([]ikv, nlsamples)
	for i := 0; i < nlsamples; i++ {
		mypicks[i] = cand[i*len(cand)/nlsamples]
	}

	// allpicks is scratch: derive splitters from it in a nested arena
	// scope so it is released as soon as the splitters are known, before
	// the (larger) bucket exchange below runs.
	var splitters []ikv
	err := func() error {
		defer arena.Guard(ctrl.Arena)()
		flat := make([]int64, 0, 2*len(mypicks))
		for _, p := range mypicks {
			flat = append(flat, p.Key, p.Val)
		}
		gathered, err := substrate.AllGatherInt64(ctx, flat)
		if err != nil {
			return fatalf(op, err, "sample gather failed")
		}
		allpicks := make([]ikv, 0, len(gathered)/2)
		for i := 0; i+1 < len(gathered); i += 2 {
			allpicks = append(allpicks, ikv{Key: gathered[i], Val: gathered[i+1]})
		}
		sort.Slice(allpicks, func(i, j int) bool { return lessIKV(allpicks[i], allpicks[j]) })

		splitters = make([]ikv, size+1)
		splitters[0] = ikv{Key: math.MinInt64, Val: math.MinInt64}
		splitters[size] = ikv{Key: math.MaxInt64, Val: math.MaxInt64}
		for r := 1; r < size; r++ {
			if len(allpicks) == 0 {
				splitters[r] = ikv{Key: math.MaxInt64, Val: math.MaxInt64}
				continue
			}
			idx := r * len(allpicks) / size
			if idx >= len(allpicks) {
				idx = len(allpicks) - 1
			}
			splitters[r] = allpicks[idx]
		}
		return nil
	}()
	if err != nil {
		return err
	}

	buckets := make([][]ikv, size)
	for _, c := range cand {
		r := rankBucket(c, splitters)
		buckets[r] = append(buckets[r], c)
	}
	send := make([][]byte, size)
	for r := 0; r < size; r++ {
		send[r] = encodeIKV(buckets[r])
	}

	var recvBytes [][]byte
	if logger := ctrl.log(); logger != nil {
		err = logger.LogPhase(op+".exchange", func() error {
			var exErr error
			recvBytes, exErr = exchangeVariableBytes(ctx, substrate, send, dataExchangeTag)
			return exErr
		})
	} else {
		recvBytes, err = exchangeVariableBytes(ctx, substrate, send, dataExchangeTag)
	}
	if err != nil {
		return fatalf(op, err, "bucket exchange failed")
	}
	var received []ikv
	for _, b := range recvBytes {
		received = append(received, decodeIKV(b)...)
	}
	sort.Slice(received, func(i, j int) bool { return lessIKV(received[i], received[j]) })

	lastPos, err := substrate.ScanInt64Sum(ctx, int64(len(received)))
	if err != nil {
		return fatalf(op, err, "position scan failed")
	}
	firstPos := lastPos - int64(len(received))

	labelBuckets := make([][]int64, size)
	for i, rec := range received {
		globalPos := firstPos + int64(i)
		part := rankOf(globalPos, graph.VtxDist)
		owner := rankOf(rec.Val, graph.VtxDist)
		labelBuckets[owner] = append(labelBuckets[owner], rec.Val, int64(part))
	}
	labeled := make([][]byte, size)
	for r := 0; r < size; r++ {
		labeled[r] = encodeInt64s(labelBuckets[r])
	}

	var backBytes [][]byte
	if logger := ctrl.log(); logger != nil {
		err = logger.LogPhase(op+".return", func() error {
			var exErr error
			backBytes, exErr = exchangeVariableBytes(ctx, substrate, labeled, labelExchangeTag)
			return exErr
		})
	} else {
		backBytes, err = exchangeVariableBytes(ctx, substrate, labeled, labelExchangeTag)
	}
	if err != nil {
		return fatalf(op, err, "label return exchange failed")
	}

	if graph.Where == nil {
		graph.Where = make([]int, graph.NVtxs)
	}
	for _, b := range backBytes {
		pairs := decodeInt64s(b)
		for i := 0; i+1 < len(pairs); i += 2 {
			val, part := pairs[i], pairs[i+1]
			local := val - firstLocal
			if local < 0 || int(local) >= graph.NVtxs {
				return fatalf(op, nil, "returned vertex %d out of local range [%d,%d)", val, firstLocal, firstLocal+int64(graph.NVtxs))
			}
			graph.Where[local] = int(part)
		}
	}
	return nil
}

// rankOf finds the rank r such that dist[r] <= x < dist[r+1]: the owner
// of global vertex/position x under distribution dist.
func rankOf(x int64, dist []int64) int {
	size := len(dist) - 1
	return sort.Search(size, func(r int) bool { return x < dist[r+1] })
}

// lessIKV orders records by (Key, Val) lexicographically, the total order
// every sort and splitter comparison in this file shares.
func lessIKV(a, b ikv) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Val < b.Val
}

// rankBucket finds the smallest r such that (rec.Key, rec.Val) <
// (splitters[r+1].Key, splitters[r+1].Val): which of the
// len(splitters)-1 buckets delimited by splitters rec falls in.
func rankBucket(rec ikv, splitters []ikv) int {
	size := len(splitters) - 1
	return sort.Search(size, func(r int) bool { return lessIKV(rec, splitters[r+1]) })
}

func encodeIKV(recs []ikv) []byte {
	buf := make([]byte, 16*len(recs))
	for i, r := range recs {
		binary.LittleEndian.PutUint64(buf[i*16:], uint64(r.Key))
		binary.LittleEndian.PutUint64(buf[i*16+8:], uint64(r.Val))
	}
	return buf
}

func decodeIKV(buf []byte) []ikv {
	n := len(buf) / 16
	recs := make([]ikv, n)
	for i := 0; i < n; i++ {
		recs[i] = ikv{
			Key: int64(binary.LittleEndian.Uint64(buf[i*16:])),
			Val: int64(binary.LittleEndian.Uint64(buf[i*16+8:])),
		}
	}
	return recs
}

func encodeInt64s(vs []int64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func decodeInt64s(buf []byte) []int64 {
	n := len(buf) / 8
	vs := make([]int64, n)
	for i := 0; i < n; i++ {
		vs[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vs
}

// SampleSort is the strict sample-sort variant: every rank contributes
// Size-1 local samples (one when Size is 1), clamped down only when it
// owns fewer vertices than that.
func SampleSort(ctrl *Control, graph *Graph, keys []int64) error {
	nlsamples := ctrl.Size() - 1
	if nlsamples < 1 {
		nlsamples = 1
	}
	return sampleSortCore(ctrl, graph, keys, nlsamples)
}

// PseudoSampleSort scales the local sample count to edge density instead
// of a fixed Size-1: it targets roughly (edges+vertices)/Size^2 samples
// per rank, clamped to [opts.MinSamples, Size] -- except that when even
// the clamped value would pull in more samples than vertices exist
// (nlsamples*Size > GNVtxs), it is unconditionally replaced by
// 5+GNVtxs/(5*Size), bypassing the MinSamples floor just applied. That
// override order is preserved exactly as derived, including the case
// where the replacement value itself falls under MinSamples.
func PseudoSampleSort(ctrl *Control, graph *Graph, keys []int64, opts Options) error {
	const op = "PseudoSampleSort"
	substrate := ctrl.Substrate
	ctx := context.Background()
	size := int64(ctrl.Size())

	edgeSum, err := substrate.AllReduceInt64(ctx, graph.NEdges, messaging.Sum)
	if err != nil {
		return fatalf(op, err, "edge sum reduction failed")
	}

	nls := (edgeSum + graph.GNVtxs) / (size * size)
	if nls > size {
		nls = size
	}
	if nls < int64(opts.MinSamples) {
		nls = int64(opts.MinSamples)
	}
	if nls*size > graph.GNVtxs {
		nls = 5 + graph.GNVtxs/(5*size)
	}
	if nls < 1 {
		nls = 1
	}
	return sampleSortCore(ctrl, graph, keys, int(nls))
}
