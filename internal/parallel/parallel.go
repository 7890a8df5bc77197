// Package parallel provides bounded-concurrency helpers for cross-cutting
// scans such as hashing large input file sets. All helpers respect context
// cancellation between items; an item already started runs to completion.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Map applies fn to every item with at most limit invocations in flight.
// Results preserve input order. The first error cancels the remaining
// un-started items and is returned.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Filter returns the items for which keep reports true, preserving input
// order, with at most limit predicate invocations in flight.
func Filter[T any](ctx context.Context, items []T, limit int, keep func(context.Context, T) (bool, error)) ([]T, error) {
	marks, err := Map(ctx, items, limit, keep)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i, ok := range marks {
		if ok {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// All reports whether every item satisfies pred. It stops early: once any
// item fails the predicate (or errors), no further items are started.
func All[T any](ctx context.Context, items []T, limit int, pred func(context.Context, T) (bool, error)) (bool, error) {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(limit))
	g, _ := errgroup.WithContext(gctx)

	failed := make(chan struct{})
	var failOnce sync.Once
	var firstErr error
	errOnce := make(chan error, 1)

	for _, item := range items {
		if err := sem.Acquire(gctx, 1); err != nil {
			// Canceled because an earlier item failed; stop starting work.
			break
		}
		item := item
		g.Go(func() error {
			defer sem.Release(1)
			ok, err := pred(gctx, item)
			if err != nil {
				select {
				case errOnce <- err:
				default:
				}
				cancel()
				return nil
			}
			if !ok {
				failOnce.Do(func() { close(failed) })
				cancel()
			}
			return nil
		})
	}

	_ = g.Wait()
	select {
	case firstErr = <-errOnce:
		return false, firstErr
	default:
	}
	select {
	case <-failed:
		return false, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// BatchedMap behaves like Map but processes items in fixed-size batches run
// sequentially, yielding to the scheduler and requesting garbage collection
// between batches. This bounds peak memory on very large item sets at the
// cost of some parallel throughput.
func BatchedMap[T, R any](ctx context.Context, items []T, limit, batchSize int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if batchSize <= 0 {
		return Map(ctx, items, limit, fn)
	}

	results := make([]R, 0, len(items))
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(items))
		batch, err := Map(ctx, items[start:end], limit, fn)
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
		if end < len(items) {
			runtime.Gosched()
			runtime.GC()
		}
	}
	return results, nil
}
