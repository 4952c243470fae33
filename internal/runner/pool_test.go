package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalnine/robogauge/internal/runner"
)

func TestMapOrdered(t *testing.T) {
	items := []int{5, 1, 4, 2, 3, 0, 7, 6}
	var inflight, peak atomic.Int32
	out := runner.Map(context.Background(), 3, items, func(_ context.Context, i, v int) (int, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(v) * time.Millisecond)
		inflight.Add(-1)
		return v * 10, nil
	})
	if len(out) != len(items) {
		t.Fatalf("got %d outcomes, want %d", len(out), len(items))
	}
	for i, o := range out {
		if o.Index != i || o.Err != nil || o.Value != items[i]*10 {
			t.Errorf("outcome %d: %+v", i, o)
		}
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", peak.Load())
	}
}

func TestMapIsolatesFailures(t *testing.T) {
	items := []string{"ok", "fail", "panic", "ok"}
	out := runner.Map(context.Background(), 2, items, func(_ context.Context, _ int, s string) (string, error) {
		switch s {
		case "fail":
			return "", fmt.Errorf("cell failed")
		case "panic":
			panic("simulator exploded")
		}
		return s, nil
	})
	if out[0].Err != nil || out[3].Err != nil {
		t.Errorf("siblings affected: %v, %v", out[0].Err, out[3].Err)
	}
	if out[1].Err == nil {
		t.Error("expected error for failing item")
	}
	var pe *runner.PanicError
	if !errors.As(out[2].Err, &pe) {
		t.Fatalf("expected PanicError, got %v", out[2].Err)
	}
	if pe.Value != "simulator exploded" || pe.Stack == "" {
		t.Errorf("panic error: %+v", pe)
	}
}

func TestMapSequential(t *testing.T) {
	var order []int
	out := runner.Map(context.Background(), 1, []int{0, 1, 2}, func(_ context.Context, i, _ int) (struct{}, error) {
		order = append(order, i)
		return struct{}{}, nil
	})
	if len(out) != 3 {
		t.Fatalf("got %d outcomes", len(out))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order: %v", order)
		}
	}
}

func TestMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := runner.Map(ctx, 1, []int{0, 1, 2}, func(_ context.Context, i, _ int) (int, error) {
		if i == 0 {
			cancel()
		}
		return i, nil
	})
	if out[0].Err != nil {
		t.Errorf("started item should complete: %v", out[0].Err)
	}
	for _, o := range out[1:] {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("item %d: got %v, want context.Canceled", o.Index, o.Err)
		}
	}
}

func TestSafely(t *testing.T) {
	if err := runner.Safely(func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := runner.Safely(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	var pe *runner.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
}
