package fabric

import (
	"fmt"
	"sync"

	"github.com/coordpart/coordpart/pkg/messaging"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// collRound mirrors messaging.Local's rendezvous round, adapted to carry
// frames arriving from distinct network connections instead of goroutines
// in the same process.
type collRound struct {
	arrived  int
	departed int
	ready    bool
	inputs   []*frame
	result   *frame
}

type mailboxKey struct {
	src, dest, tag int
}

// Hub is the fabric server's shared state: one rendezvous point for
// collectives and one mailbox set for point-to-point transfer, serving
// every connected rank's stream.
type Hub struct {
	size int

	collMu   sync.Mutex
	collCond *sync.Cond
	coll     collRound

	mbMu  sync.Mutex
	inbox map[mailboxKey]chan []byte
}

// NewHub returns a Hub for a group of size ranks.
func NewHub(size int) *Hub {
	h := &Hub{size: size, inbox: make(map[mailboxKey]chan []byte)}
	h.collCond = sync.NewCond(&h.collMu)
	return h
}

func (h *Hub) mailbox(key mailboxKey) chan []byte {
	h.mbMu.Lock()
	defer h.mbMu.Unlock()
	ch, ok := h.inbox[key]
	if !ok {
		ch = make(chan []byte, 1)
		h.inbox[key] = ch
	}
	return ch
}

// rendezvous blocks until every rank has submitted in for the current
// round, then returns combine's result to all of them.
func (h *Hub) rendezvous(rank int, in *frame, combine func([]*frame) *frame) *frame {
	h.collMu.Lock()
	// A rank that has left the previous round may arrive before the others
	// have; it waits here until that round has reset.
	for h.coll.ready {
		h.collCond.Wait()
	}
	if h.coll.inputs == nil {
		h.coll.inputs = make([]*frame, h.size)
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

func combineInt64(a, b int64, op messaging.ReduceOp) int64 {
	switch op {
	case messaging.Min:
		if b < a {
			return b
		}
		return a
	case messaging.Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func combineFloat64(a, b float64, op messaging.ReduceOp) float64 {
	switch op {
	case messaging.Min:
		if b < a {
			return b
		}
		return a
	case messaging.Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

// serveConn drains one rank's stream: it reads frames and, for each,
// dispatches handle on its own goroutine rather than handling them one at a
// time in order. A rank's posted receive can legitimately block inside
// handle (waiting on a peer's not-yet-arrived send) for as long as it
// takes that peer to reach its own matching send; serving requests
// sequentially would leave that rank's own outgoing send frame unread
// behind the blocked receive, deadlocking both sides. Replies are written
// back as they complete, carrying the request's ID so the client can
// match them regardless of completion order; writes are serialized since
// concurrent SendMsg calls on one stream are not safe.
func (h *Hub) serveConn(stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	hello, err := decodeFrame(in)
	if err != nil {
		return err
	}
	if hello.Kind != kindHello {
		return fmt.Errorf("fabric: expected hello frame, got %s", hello.Kind)
	}
	rank := hello.Rank
	if rank < 0 || rank >= h.size {
		return fmt.Errorf("fabric: rank %d out of range [0,%d)", rank, h.size)
	}

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	reportErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	for {
		req := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(req); err != nil {
			wg.Wait()
			return err
		}
		f, err := decodeFrame(req)
		if err != nil {
			wg.Wait()
			return err
		}

		wg.Add(1)
		go func(f *frame) {
			defer wg.Done()
			resp, err := h.handle(rank, f)
			if err != nil {
				reportErr(err)
				return
			}
			resp.ID = f.ID
			out, err := encodeFrame(resp)
			if err != nil {
				reportErr(err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := stream.SendMsg(out); err != nil {
				reportErr(err)
			}
		}(f)

		select {
		case err := <-errCh:
			wg.Wait()
			return err
		default:
		}
	}
}

func (h *Hub) handle(rank int, f *frame) (*frame, error) {
	switch f.Kind {
	case kindAllReduceInt64:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			op := messaging.ReduceOp(ins[0].Op)
			acc := ins[0].Int64Val
			for _, x := range ins[1:] {
				acc = combineInt64(acc, x.Int64Val, op)
			}
			return &frame{Kind: kindAck, Int64Val: acc}
		})
		return result, nil

	case kindAllReduceFloat:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			op := messaging.ReduceOp(ins[0].Op)
			acc := ins[0].Float64Val
			for _, x := range ins[1:] {
				acc = combineFloat64(acc, x.Float64Val, op)
			}
			return &frame{Kind: kindAck, Float64Val: acc}
		})
		return result, nil

	case kindAllReduceSlice:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			op := messaging.ReduceOp(ins[0].Op)
			n := len(ins[0].Int64Slice)
			out := make([]int64, n)
			copy(out, ins[0].Int64Slice)
			for _, x := range ins[1:] {
				for i := 0; i < n; i++ {
					out[i] = combineInt64(out[i], x.Int64Slice[i], op)
				}
			}
			return &frame{Kind: kindAck, Int64Slice: out}
		})
		return result, nil

	case kindAllGatherInt64:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			var out []int64
			for _, x := range ins {
				out = append(out, x.Int64Slice...)
			}
			return &frame{Kind: kindAck, Int64Slice: out}
		})
		return result, nil

	case kindAllToAll:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			// Flatten every rank's per-destination buckets (ins[i].ByteSlices
			// is rank i's send[] argument) into one rank-major slice so each
			// caller below can slice out its column.
			flat := make([][]byte, 0, h.size*h.size)
			for _, x := range ins {
				flat = append(flat, x.ByteSlices...)
			}
			return &frame{Kind: kindAck, ByteSlices: flat}
		})
		n := h.size
		recv := make([][]byte, n)
		for src := 0; src < n; src++ {
			recv[src] = result.ByteSlices[src*n+rank]
		}
		return &frame{Kind: kindAck, ByteSlices: recv}, nil

	case kindScanInt64Sum:
		result := h.rendezvous(rank, f, func(ins []*frame) *frame {
			out := make([]int64, len(ins))
			var running int64
			for i, x := range ins {
				running += x.Int64Val
				out[i] = running
			}
			return &frame{Kind: kindAck, Int64Slice: out}
		})
		return &frame{Kind: kindAck, Int64Val: result.Int64Slice[rank]}, nil

	case kindPTPSend:
		key := mailboxKey{src: f.Src, dest: f.Dest, tag: f.Tag}
		ch := h.mailbox(key)
		ch <- f.Bytes
		return &frame{Kind: kindAck}, nil

	case kindPTPRecv:
		key := mailboxKey{src: f.Src, dest: f.Dest, tag: f.Tag}
		ch := h.mailbox(key)
		data := <-ch
		if len(data) != f.Length {
			return nil, fmt.Errorf("fabric: recv from rank %d tag %d expected %d bytes, got %d", f.Src, f.Tag, f.Length, len(data))
		}
		return &frame{Kind: kindAck, Bytes: data}, nil

	default:
		return nil, fmt.Errorf("fabric: unknown frame kind %q", f.Kind)
	}
}
