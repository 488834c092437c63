package fabric

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coordpart/coordpart/pkg/messaging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// dialGroup spins up a Hub behind a bufconn listener and returns size
// Substrate clients connected to it, plus a teardown func.
func dialGroup(t *testing.T, size int) ([]*Substrate, func()) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	hub := NewHub(size)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, hub)
	go grpcServer.Serve(lis)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	group := make([]*Substrate, size)
	for r := 0; r < size; r++ {
		ctx := context.Background()
		sub, err := Dial(ctx, "bufnet", r, size,
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			t.Fatalf("dial rank %d: %v", r, err)
		}
		group[r] = sub
	}

	teardown := func() {
		grpcServer.Stop()
		lis.Close()
	}
	return group, teardown
}

func TestSubstrateAllReduceInt64(t *testing.T) {
	group, teardown := dialGroup(t, 4)
	defer teardown()

	var wg sync.WaitGroup
	results := make([]int64, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			v, err := group[r].AllReduceInt64(ctx, int64(r+1), messaging.Sum)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			results[r] = v
		}(r)
	}
	wg.Wait()

	for r, v := range results {
		if v != 10 {
			t.Errorf("rank %d: expected sum 10, got %d", r, v)
		}
	}
}

func TestSubstrateAllToAll(t *testing.T) {
	group, teardown := dialGroup(t, 3)
	defer teardown()

	var wg sync.WaitGroup
	recvAll := make([][][]byte, 3)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			send := make([][]byte, 3)
			for dest := 0; dest < 3; dest++ {
				send[dest] = []byte{byte(r), byte(dest)}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			recv, err := group[r].AllToAll(ctx, send)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			recvAll[r] = recv
		}(r)
	}
	wg.Wait()

	for dest := 0; dest < 3; dest++ {
		for src := 0; src < 3; src++ {
			got := recvAll[dest][src]
			want := []byte{byte(src), byte(dest)}
			if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
				t.Errorf("rank %d recv from %d: got %v, want %v", dest, src, got, want)
			}
		}
	}
}

func TestSubstratePointToPoint(t *testing.T) {
	group, teardown := dialGroup(t, 2)
	defer teardown()

	var wg sync.WaitGroup
	wg.Add(2)

	var received []byte
	go func() {
		defer wg.Done()
		req := group[0].ISend(1, 7, []byte("hello"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := group[0].WaitAll(ctx, []messaging.Request{req}); err != nil {
			t.Errorf("rank 0 send: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		req := group[1].IRecv(0, 7, 5)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := group[1].WaitAll(ctx, []messaging.Request{req})
		if err != nil {
			t.Errorf("rank 1 recv: %v", err)
			return
		}
		received = out[0]
	}()
	wg.Wait()

	if string(received) != "hello" {
		t.Errorf("expected to receive %q, got %q", "hello", received)
	}
}

func TestSubstrateScanInt64Sum(t *testing.T) {
	group, teardown := dialGroup(t, 4)
	defer teardown()

	var wg sync.WaitGroup
	results := make([]int64, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			v, err := group[r].ScanInt64Sum(ctx, int64(r+1))
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			results[r] = v
		}(r)
	}
	wg.Wait()

	want := []int64{1, 3, 6, 10}
	for r, v := range results {
		if v != want[r] {
			t.Errorf("rank %d: expected prefix sum %d, got %d", r, want[r], v)
		}
	}
}

func TestDialRejectsRankOutOfRange(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	hub := NewHub(1)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, hub)
	go grpcServer.Serve(lis)
	defer func() {
		grpcServer.Stop()
		lis.Close()
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	sub, err := Dial(context.Background(), "bufnet", 5, 1,
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		// Dial itself can succeed since hello is sent asynchronously to the
		// server loop; the failure surfaces on the first real call.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := sub.AllReduceInt64(ctx, 1, messaging.Sum); err == nil {
		t.Fatal("expected error for out-of-range rank")
	}
}
