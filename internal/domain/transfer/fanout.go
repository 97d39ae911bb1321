package transfer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEach calls fn for every index in [0, n), at most limit at a time. Each
// call must write only to its own result slot, so output order follows input
// order whatever the interleaving. fn reports failures through its slot, not
// a return value, so one item can never cancel the others.
func forEach(ctx context.Context, n, limit int, fn func(ctx context.Context, i int)) {
	if limit <= 1 {
		for i := 0; i < n; i++ {
			fn(ctx, i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
