package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a result with its input index.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// PanicError is a recovered panic with the stack of the panicking goroutine.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Safely runs fn and converts a panic into a *PanicError.
func Safely(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// Map applies fn to every item with at most limit calls in flight and
// returns outcomes in input order. A failing or panicking item never stops
// its siblings. limit <= 1 runs items one by one in the calling goroutine.
// Items not yet started when ctx is cancelled get ctx.Err().
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, i int, item T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	run := func(i int) {
		out[i].Index = i
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			return
		}
		out[i].Err = Safely(func() error {
			v, err := fn(ctx, i, items[i])
			out[i].Value = v
			return err
		})
	}
	if limit <= 1 {
		for i := range items {
			run(i)
		}
		return out
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range items {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	g.Wait()
	return out
}
