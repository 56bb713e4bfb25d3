package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"truststack/internal/logging"
)

// FetchResult pairs one input URL with its outcome. Results keep the
// input order regardless of completion order.
type FetchResult struct {
	URL  string
	Page *Page
	Err  error
}

// FetchAll fetches urls with a bounded worker pool. Individual failures
// land in the per-URL Err; only context cancellation aborts the batch.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, workers int) ([]FetchResult, error) {
	if workers <= 0 {
		workers = 5
	}
	if workers > 10 {
		workers = 10
	}
	if workers > len(urls) {
		workers = len(urls)
	}

	results := make([]FetchResult, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, u := range urls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = FetchResult{URL: u, Err: err}
				return err
			}
			page, err := f.Fetch(ctx, u)
			results[i] = FetchResult{URL: u, Page: page, Err: err}
			if err != nil {
				logging.FetchDebug("parallel fetch %s: %v", u, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
