package library

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBatchLimitAndOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var inFlight, peak atomic.Int32

	res := RunBatch(context.Background(), items, 3, func(_ context.Context, n int) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		// finish in reverse so completion order differs from input order
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		if n%4 == 0 {
			return fmt.Errorf("item %d", n)
		}
		return nil
	})

	if p := peak.Load(); p > 3 {
		t.Fatalf("limit exceeded: %d in flight", p)
	}
	want := []int{1, 2, 3, 5, 6, 7}
	if len(res.Succeeded) != len(want) {
		t.Fatalf("want %v, got %v", want, res.Succeeded)
	}
	for i, n := range want {
		if res.Succeeded[i] != n {
			t.Fatalf("succeeded[%d]: want %d, got %d", i, n, res.Succeeded[i])
		}
	}
	if res.FailedCount() != 2 || res.Failed[0].Item != 4 || res.Failed[1].Item != 8 {
		t.Fatalf("unexpected failures %+v", res.Failed)
	}
	if res.Failed[0].Err.Error() != "item 4" {
		t.Fatalf("error lost: %v", res.Failed[0].Err)
	}
}

func TestRunBatchZeroLimitRunsSerially(t *testing.T) {
	var inFlight, peak atomic.Int32
	RunBatch(context.Background(), []int{1, 2, 3}, 0, func(context.Context, int) error {
		cur := inFlight.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	if peak.Load() != 1 {
		t.Fatalf("want serial execution, peak %d", peak.Load())
	}
}

func TestRunBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	res := RunBatch(ctx, []int{1, 2, 3, 4}, 1, func(context.Context, int) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil
	})

	if res.SuccessCount() != 2 || res.FailedCount() != 2 {
		t.Fatalf("want 2 succeeded and 2 cancelled, got %+v", res)
	}
	for _, f := range res.Failed {
		if !errors.Is(f.Err, context.Canceled) {
			t.Fatalf("item %d: want context.Canceled, got %v", f.Item, f.Err)
		}
	}
}
