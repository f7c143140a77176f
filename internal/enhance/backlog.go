package enhance

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Backlog runs work in fixed-size concurrent batches with a pause between
// batches, to stay under provider rate limits.
type Backlog struct {
	BatchSize  int
	BatchPause time.Duration
}

// Process calls fn for every item and returns one error slot per item, in
// input order. A failing or panicking item does not affect its siblings.
// Items not started because ctx ended get ctx's error.
func Process[T any](ctx context.Context, b Backlog, items []T, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))
	size := b.BatchSize
	if size <= 0 {
		size = 1
	}

	for start := 0; start < len(items); start += size {
		if start > 0 && b.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.BatchPause):
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				errs[i] = err
			}
			break
		}

		end := min(start+size, len(items))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic: %v", r)
					}
					errs[i] = err
				}()
				return fn(ctx, items[i])
			})
		}
		_ = g.Wait()
	}
	return errs
}
