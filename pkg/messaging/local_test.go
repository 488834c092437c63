package messaging

import (
	"context"
	"sync"
	"testing"
)

func runGroup(t *testing.T, size int, fn func(t *testing.T, l *Local)) {
	t.Helper()
	group := NewLocalGroup(size)
	var wg sync.WaitGroup
	for _, l := range group {
		wg.Add(1)
		go func(l *Local) {
			defer wg.Done()
			fn(t, l)
		}(l)
	}
	wg.Wait()
}

func TestAllReduceInt64(t *testing.T) {
	ctx := context.Background()
	runGroup(t, 4, func(t *testing.T, l *Local) {
		sum, err := l.AllReduceInt64(ctx, int64(l.Rank()+1), Sum)
		if err != nil {
			t.Fatal(err)
		}
		if sum != 10 {
			t.Fatalf("rank %d: expected sum 10, got %d", l.Rank(), sum)
		}
		mn, err := l.AllReduceInt64(ctx, int64(l.Rank()+1), Min)
		if err != nil {
			t.Fatal(err)
		}
		if mn != 1 {
			t.Fatalf("rank %d: expected min 1, got %d", l.Rank(), mn)
		}
		mx, err := l.AllReduceInt64(ctx, int64(l.Rank()+1), Max)
		if err != nil {
			t.Fatal(err)
		}
		if mx != 4 {
			t.Fatalf("rank %d: expected max 4, got %d", l.Rank(), mx)
		}
	})
}

func TestAllGatherInt64(t *testing.T) {
	ctx := context.Background()
	runGroup(t, 3, func(t *testing.T, l *Local) {
		got, err := l.AllGatherInt64(ctx, []int64{int64(l.Rank()), int64(l.Rank() * 10)})
		if err != nil {
			t.Fatal(err)
		}
		want := []int64{0, 0, 1, 10, 2, 20}
		if len(got) != len(want) {
			t.Fatalf("rank %d: expected %v, got %v", l.Rank(), want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d: expected %v, got %v", l.Rank(), want, got)
			}
		}
	})
}

func TestScanInt64Sum(t *testing.T) {
	ctx := context.Background()
	runGroup(t, 4, func(t *testing.T, l *Local) {
		got, err := l.ScanInt64Sum(ctx, int64(l.Rank()+1))
		if err != nil {
			t.Fatal(err)
		}
		want := []int64{1, 3, 6, 10}
		if got != want[l.Rank()] {
			t.Fatalf("rank %d: expected scan %d, got %d", l.Rank(), want[l.Rank()], got)
		}
	})
}

func TestAllToAll(t *testing.T) {
	ctx := context.Background()
	runGroup(t, 3, func(t *testing.T, l *Local) {
		send := make([][]byte, 3)
		for d := 0; d < 3; d++ {
			send[d] = []byte{byte(l.Rank()), byte(d)}
		}
		recv, err := l.AllToAll(ctx, send)
		if err != nil {
			t.Fatal(err)
		}
		for src := 0; src < 3; src++ {
			want := []byte{byte(src), byte(l.Rank())}
			if recv[src][0] != want[0] || recv[src][1] != want[1] {
				t.Fatalf("rank %d: from %d expected %v, got %v", l.Rank(), src, want, recv[src])
			}
		}
	})
}

func TestPointToPoint(t *testing.T) {
	ctx := context.Background()
	runGroup(t, 2, func(t *testing.T, l *Local) {
		if l.Rank() == 0 {
			req := l.ISend(1, 7, []byte("hello"))
			if _, err := l.WaitAll(ctx, []Request{req}); err != nil {
				t.Fatal(err)
			}
		} else {
			req := l.IRecv(0, 7, 5)
			data, err := l.WaitAll(ctx, []Request{req})
			if err != nil {
				t.Fatal(err)
			}
			if string(data[0]) != "hello" {
				t.Fatalf("expected hello, got %q", data[0])
			}
		}
	})
}
