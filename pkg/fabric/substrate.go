package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/coordpart/coordpart/pkg/messaging"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Substrate implements pkg/messaging.Substrate over a single gRPC stream
// dialed against a fabric Server. A background recvLoop goroutine owns all
// reads off the stream and routes each reply to the call that sent the
// matching request ID; writes are serialized with a mutex since concurrent
// SendMsg calls on one stream are not safe. This lets more than one call
// be outstanding on the stream at once -- required by WaitAll, where a
// posted receive can block on a peer's not-yet-arrived send for as long as
// that peer takes to reach its own matching send.
type Substrate struct {
	rank int
	size int

	writeMu sync.Mutex
	stream  grpc.ClientStream

	nextID  uint64
	repMu   sync.Mutex
	replies map[uint64]chan *frame

	recvErr chan error

	pendMu  sync.Mutex
	nextReq messaging.Request
	pending map[messaging.Request]pendingOp
}

type pendingOp struct {
	send   bool
	dest   int
	src    int
	tag    int
	data   []byte
	length int
}

// Dial connects to a fabric server at addr, registers as rank within a
// group of size ranks, and returns a ready-to-use Substrate.
func Dial(ctx context.Context, addr string, rank, size int, opts ...grpc.DialOption) (*Substrate, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("fabric: dial %s: %w", addr, err)
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], "/coordpart.Fabric/Channel")
	if err != nil {
		return nil, fmt.Errorf("fabric: open channel stream: %w", err)
	}

	hello, err := encodeFrame(&frame{Kind: kindHello, Rank: rank})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(hello); err != nil {
		return nil, fmt.Errorf("fabric: send hello: %w", err)
	}

	s := &Substrate{
		rank:    rank,
		size:    size,
		stream:  stream,
		replies: make(map[uint64]chan *frame),
		recvErr: make(chan error, 1),
		pending: make(map[messaging.Request]pendingOp),
	}
	go s.recvLoop()
	return s, nil
}

// recvLoop continuously reads replies off the stream and delivers each to
// the reply channel registered for its ID, so call() never has to hold the
// stream while blocking on a reply that hasn't arrived yet.
func (s *Substrate) recvLoop() {
	for {
		in := new(wrapperspb.BytesValue)
		if err := s.stream.RecvMsg(in); err != nil {
			s.recvErr <- err
			s.repMu.Lock()
			for _, ch := range s.replies {
				ch <- nil
			}
			s.repMu.Unlock()
			return
		}
		f, err := decodeFrame(in)
		if err != nil {
			s.recvErr <- err
			return
		}
		s.repMu.Lock()
		ch, ok := s.replies[f.ID]
		s.repMu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (s *Substrate) Rank() int { return s.rank }
func (s *Substrate) Size() int { return s.size }

// call sends req and waits for the reply carrying the same ID, without
// holding the stream for the duration of that wait -- any number of calls
// may be outstanding at once.
func (s *Substrate) call(ctx context.Context, req *frame) (*frame, error) {
	s.repMu.Lock()
	s.nextID++
	id := s.nextID
	reply := make(chan *frame, 1)
	s.replies[id] = reply
	s.repMu.Unlock()
	defer func() {
		s.repMu.Lock()
		delete(s.replies, id)
		s.repMu.Unlock()
	}()

	req.ID = id
	out, err := encodeFrame(req)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	err = s.stream.SendMsg(out)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("fabric: send %s: %w", req.Kind, err)
	}

	select {
	case f := <-reply:
		if f == nil {
			return nil, fmt.Errorf("fabric: connection closed waiting for reply to %s", req.Kind)
		}
		return f, nil
	case err := <-s.recvErr:
		s.recvErr <- err
		return nil, fmt.Errorf("fabric: recv loop stopped waiting for reply to %s: %w", req.Kind, err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Substrate) AllReduceInt64(ctx context.Context, v int64, op messaging.ReduceOp) (int64, error) {
	resp, err := s.call(ctx, &frame{Kind: kindAllReduceInt64, Rank: s.rank, Op: int(op), Int64Val: v})
	if err != nil {
		return 0, err
	}
	return resp.Int64Val, nil
}

func (s *Substrate) AllReduceFloat64(ctx context.Context, v float64, op messaging.ReduceOp) (float64, error) {
	resp, err := s.call(ctx, &frame{Kind: kindAllReduceFloat, Rank: s.rank, Op: int(op), Float64Val: v})
	if err != nil {
		return 0, err
	}
	return resp.Float64Val, nil
}

func (s *Substrate) AllReduceInt64Slice(ctx context.Context, v []int64, op messaging.ReduceOp) ([]int64, error) {
	resp, err := s.call(ctx, &frame{Kind: kindAllReduceSlice, Rank: s.rank, Op: int(op), Int64Slice: v})
	if err != nil {
		return nil, err
	}
	return resp.Int64Slice, nil
}

func (s *Substrate) AllGatherInt64(ctx context.Context, v []int64) ([]int64, error) {
	resp, err := s.call(ctx, &frame{Kind: kindAllGatherInt64, Rank: s.rank, Int64Slice: v})
	if err != nil {
		return nil, err
	}
	return resp.Int64Slice, nil
}

func (s *Substrate) AllToAll(ctx context.Context, send [][]byte) ([][]byte, error) {
	if len(send) != s.size {
		return nil, fmt.Errorf("fabric: AllToAll send length %d != group size %d", len(send), s.size)
	}
	resp, err := s.call(ctx, &frame{Kind: kindAllToAll, Rank: s.rank, ByteSlices: send})
	if err != nil {
		return nil, err
	}
	return resp.ByteSlices, nil
}

func (s *Substrate) ScanInt64Sum(ctx context.Context, v int64) (int64, error) {
	resp, err := s.call(ctx, &frame{Kind: kindScanInt64Sum, Rank: s.rank, Int64Val: v})
	if err != nil {
		return 0, err
	}
	return resp.Int64Val, nil
}

func (s *Substrate) ISend(dest int, tag int, data []byte) messaging.Request {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	req := s.nextReq
	s.nextReq++
	cp := make([]byte, len(data))
	copy(cp, data)
	s.pending[req] = pendingOp{send: true, dest: dest, tag: tag, data: cp}
	return req
}

func (s *Substrate) IRecv(src int, tag int, length int) messaging.Request {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	req := s.nextReq
	s.nextReq++
	s.pending[req] = pendingOp{send: false, src: src, tag: tag, length: length}
	return req
}

// WaitAll resolves every request in reqs concurrently, each over its own
// call() so a receive blocked on a peer's not-yet-arrived send cannot
// starve this rank's own matching send of a chance to go out -- the same
// hazard pkg/messaging.Local's WaitAll guards against.
func (s *Substrate) WaitAll(ctx context.Context, reqs []messaging.Request) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		s.pendMu.Lock()
		op, ok := s.pending[req]
		if ok {
			delete(s.pending, req)
		}
		s.pendMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("fabric: unknown or already-resolved request %d", req)
		}

		wg.Add(1)
		go func(i int, op pendingOp) {
			defer wg.Done()
			if op.send {
				_, err := s.call(ctx, &frame{Kind: kindPTPSend, Rank: s.rank, Src: s.rank, Dest: op.dest, Tag: op.tag, Bytes: op.data, Length: len(op.data)})
				errs[i] = err
				return
			}
			resp, err := s.call(ctx, &frame{Kind: kindPTPRecv, Rank: s.rank, Src: op.src, Dest: s.rank, Tag: op.tag, Length: op.length})
			if err != nil {
				errs[i] = err
				return
			}
			out[i] = resp.Bytes
		}(i, op)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
