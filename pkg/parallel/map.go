// Package parallel runs independent tasks on a bounded goroutine pool.
package parallel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Result is the output of one task
type Result[R any] struct {
	Value R
	Err   error
}

// Option configures Map
type Option func(*options)

type options struct {
	progress func(done, total int)
}

// WithProgress registers a callback invoked after every finished task.
// Calls are serialized; done counts finished tasks out of the dispatched total.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Map applies fn to every item with at most limit tasks in flight and blocks until all finish.
// Results are keyed by key(item); later items with a duplicate key overwrite earlier ones.
// A task's error or panic is confined to its own Result and never stops sibling tasks.
// If ctx ends, undispatched items are skipped (absent from the map) and ctx.Err() is returned.
func Map[T any, K comparable, R any](
	ctx context.Context,
	limit int,
	items []T,
	key func(T) K,
	fn func(context.Context, T) (R, error),
	opts ...Option,
) (map[K]Result[R], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > len(items) && len(items) > 0 {
		limit = len(items)
	}

	results := make(map[K]Result[R], len(items))
	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(limit)

	var dispatchErr error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		g.Go(func() error {
			value, err := runSafely(ctx, item, fn)

			mu.Lock()
			defer mu.Unlock()
			results[key(item)] = Result[R]{Value: value, Err: err}
			done++
			if o.progress != nil {
				o.progress(done, len(items))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, dispatchErr
}

// runSafely converts a panic inside fn into an ErrTaskPanic error
func runSafely[T any, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", utils.ErrTaskPanic, r, debug.Stack())
		}
	}()
	return fn(ctx, item)
}
