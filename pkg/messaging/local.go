package messaging

import (
	"context"
	"fmt"
	"sync"
)

// ptpKey identifies one point-to-point mailbox: a message from src to dest
// carrying tag.
type ptpKey struct {
	src, dest, tag int
}

// collRound tracks one in-flight collective call shared by every rank in a
// group. Every collective (AllReduce*, AllGather*, AllToAll, Scan) goes
// through the same rendezvous shape: each rank contributes its input once,
// the last arrival computes the shared result from all P inputs, and every
// rank departs with that result before the round resets for the next
// collective call. A round is keyed only by arrival order, not by call
// name, so ranks must invoke collectives in lockstep — the same discipline
// a real BSP substrate requires.
type collRound struct {
	arrived  int
	departed int
	ready    bool
	inputs   []any
	result   any
}

// hub is the state shared by every Local rank in one simulated group.
type hub struct {
	size int

	collMu   sync.Mutex
	collCond *sync.Cond
	coll     collRound

	ptpMu sync.Mutex
	inbox map[ptpKey]chan []byte
}

func newHub(size int) *hub {
	h := &hub{size: size, inbox: make(map[ptpKey]chan []byte)}
	h.collCond = sync.NewCond(&h.collMu)
	return h
}

func (h *hub) rendezvous(rank int, in any, combine func([]any) any) any {
	h.collMu.Lock()
	// A rank that has left the previous round may arrive before the others
	// have; it waits here until that round has reset.
	for h.coll.ready {
		h.collCond.Wait()
	}
	if h.coll.inputs == nil {
		h.coll.inputs = make([]any, h.size)
	}
	h.coll.inputs[rank] = in
	h.coll.arrived++
	if h.coll.arrived == h.size {
		h.coll.result = combine(h.coll.inputs)
		h.coll.ready = true
		h.collCond.Broadcast()
	} else {
		for !h.coll.ready {
			h.collCond.Wait()
		}
	}
	result := h.coll.result
	h.coll.departed++
	if h.coll.departed == h.size {
		h.coll = collRound{}
		h.collCond.Broadcast()
	}
	h.collMu.Unlock()
	return result
}

func (h *hub) mailbox(key ptpKey) chan []byte {
	h.ptpMu.Lock()
	defer h.ptpMu.Unlock()
	ch, ok := h.inbox[key]
	if !ok {
		ch = make(chan []byte, 1)
		h.inbox[key] = ch
	}
	return ch
}

type pendingKind int

const (
	pendSend pendingKind = iota
	pendRecv
)

type pending struct {
	kind   pendingKind
	key    ptpKey
	data   []byte
	length int
}

// Local is an in-process Substrate: all P ranks of a group run as
// goroutines sharing one hub, with collectives implemented as a
// round-by-round rendezvous (a new round opens only after every rank has
// left the previous one) and point-to-point messages as buffered
// channels keyed by (src, dest, tag). It is the substrate every
// pkg/coordpart test runs against, and backs the CLI's `simulate`
// subcommand.
type Local struct {
	rank int
	hub  *hub

	pendMu  sync.Mutex
	nextReq Request
	pending map[Request]pending
}

// NewLocalGroup returns size Local substrates, ranked 0..size-1, sharing a
// single hub. Each must be driven from its own goroutine.
func NewLocalGroup(size int) []*Local {
	if size <= 0 {
		panic("messaging: NewLocalGroup requires a positive size")
	}
	h := newHub(size)
	group := make([]*Local, size)
	for r := 0; r < size; r++ {
		group[r] = &Local{rank: r, hub: h, pending: make(map[Request]pending)}
	}
	return group
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.hub.size }

func combineInt64(a, b int64, op ReduceOp) int64 {
	switch op {
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func combineFloat64(a, b float64, op ReduceOp) float64 {
	switch op {
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func (l *Local) AllReduceInt64(ctx context.Context, v int64, op ReduceOp) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := l.hub.rendezvous(l.rank, v, func(ins []any) any {
		acc := ins[0].(int64)
		for _, x := range ins[1:] {
			acc = combineInt64(acc, x.(int64), op)
		}
		return acc
	})
	return res.(int64), nil
}

func (l *Local) AllReduceFloat64(ctx context.Context, v float64, op ReduceOp) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := l.hub.rendezvous(l.rank, v, func(ins []any) any {
		acc := ins[0].(float64)
		for _, x := range ins[1:] {
			acc = combineFloat64(acc, x.(float64), op)
		}
		return acc
	})
	return res.(float64), nil
}

func (l *Local) AllReduceInt64Slice(ctx context.Context, v []int64, op ReduceOp) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := l.hub.rendezvous(l.rank, v, func(ins []any) any {
		n := len(ins[0].([]int64))
		out := make([]int64, n)
		copy(out, ins[0].([]int64))
		for _, raw := range ins[1:] {
			s := raw.([]int64)
			for i := 0; i < n; i++ {
				out[i] = combineInt64(out[i], s[i], op)
			}
		}
		return out
	})
	return res.([]int64), nil
}

func (l *Local) AllGatherInt64(ctx context.Context, v []int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := l.hub.rendezvous(l.rank, v, func(ins []any) any {
		var out []int64
		for _, raw := range ins {
			out = append(out, raw.([]int64)...)
		}
		return out
	})
	return res.([]int64), nil
}

func (l *Local) AllToAll(ctx context.Context, send [][]byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(send) != l.hub.size {
		return nil, fmt.Errorf("messaging: AllToAll send length %d != group size %d", len(send), l.hub.size)
	}
	res := l.hub.rendezvous(l.rank, send, func(ins []any) any {
		all := make([][][]byte, len(ins))
		for i, raw := range ins {
			all[i] = raw.([][]byte)
		}
		return all
	})
	all := res.([][][]byte)
	recv := make([][]byte, l.hub.size)
	for src := 0; src < l.hub.size; src++ {
		recv[src] = all[src][l.rank]
	}
	return recv, nil
}

func (l *Local) ScanInt64Sum(ctx context.Context, v int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := l.hub.rendezvous(l.rank, v, func(ins []any) any {
		out := make([]int64, len(ins))
		var running int64
		for i, raw := range ins {
			running += raw.(int64)
			out[i] = running
		}
		return out
	})
	return res.([]int64)[l.rank], nil
}

func (l *Local) ISend(dest int, tag int, data []byte) Request {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	req := l.nextReq
	l.nextReq++
	cp := make([]byte, len(data))
	copy(cp, data)
	l.pending[req] = pending{kind: pendSend, key: ptpKey{src: l.rank, dest: dest, tag: tag}, data: cp}
	return req
}

func (l *Local) IRecv(src int, tag int, length int) Request {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	req := l.nextReq
	l.nextReq++
	l.pending[req] = pending{kind: pendRecv, key: ptpKey{src: src, dest: l.rank, tag: tag}, length: length}
	return req
}

// WaitAll resolves every request in reqs, returning results aligned to
// reqs. Every request's channel transfer runs on its own goroutine rather
// than one at a time in order: a rank that posts a receive before a send
// (the required posting order, so the substrate never needs unbounded
// buffering) would otherwise deadlock here against a peer doing
// the same thing, since each side's receive blocks on data only the
// other's not-yet-reached send call can deliver. Resolving the whole batch
// concurrently lets every posted send proceed independently of where its
// rank's own receives land in reqs.
func (l *Local) WaitAll(ctx context.Context, reqs []Request) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		l.pendMu.Lock()
		p, ok := l.pending[req]
		if ok {
			delete(l.pending, req)
		}
		l.pendMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("messaging: unknown or already-resolved request %d", req)
		}

		wg.Add(1)
		go func(i int, p pending) {
			defer wg.Done()
			ch := l.hub.mailbox(p.key)
			switch p.kind {
			case pendSend:
				select {
				case ch <- p.data:
				case <-ctx.Done():
					errs[i] = ctx.Err()
				}
			case pendRecv:
				select {
				case data := <-ch:
					if len(data) != p.length {
						errs[i] = fmt.Errorf("messaging: recv from rank %d tag %d expected %d bytes, got %d", p.key.src, p.key.tag, p.length, len(data))
						return
					}
					out[i] = data
				case <-ctx.Done():
					errs[i] = ctx.Err()
				}
			}
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
