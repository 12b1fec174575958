package router

import (
	"context"

	"github.com/sqlring/sqlring/pkg/statement"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type UpdateCallable func(ctx context.Context) (int, error)

type SelectCallable func(ctx context.Context) (statement.Result, error)

// ExecuteUpdateCallables runs the batch concurrently and returns the sum of
// the update counts, matching single-node semantics for multi-replica writes.
// The first failure wins; the shared context cancels siblings best-effort.
func ExecuteUpdateCallables(ctx context.Context, calls []UpdateCallable) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	total := atomic.NewInt64(0)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			n, err := call(gctx)
			if err != nil {
				return err
			}
			total.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(total.Load()), nil
}

// ExecuteSelectCallables returns the per-callable results in submission
// order; failure policy as for updates.
func ExecuteSelectCallables(ctx context.Context, calls []SelectCallable) ([]statement.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]statement.Result, len(calls))
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			res, err := call(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, res := range results {
			if res != nil {
				_ = res.Close()
			}
		}
		return nil, err
	}
	return results, nil
}
