package library

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type ItemFailure[T any] struct {
	Item T
	Err  error
}

// BatchResult lists per-item outcomes in input order.
type BatchResult[T any] struct {
	Succeeded []T
	Failed    []ItemFailure[T]
}

func (r BatchResult[T]) SuccessCount() int { return len(r.Succeeded) }
func (r BatchResult[T]) FailedCount() int  { return len(r.Failed) }

// RunBatch calls fn for every item with at most limit calls in flight. A
// failing item never stops the others. Items that were not started before
// ctx was cancelled are reported as failed with the context error.
func RunBatch[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) BatchResult[T] {
	if limit < 1 {
		limit = 1
	}
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult[T]
	for i, item := range items {
		if errs[i] != nil {
			res.Failed = append(res.Failed, ItemFailure[T]{Item: item, Err: errs[i]})
			continue
		}
		res.Succeeded = append(res.Succeeded, item)
	}
	return res
}
