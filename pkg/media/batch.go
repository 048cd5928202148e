package media

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ProbeAll probes sources concurrently, at most limit at a time (limit <= 0
// means unbounded). Results are returned in input order. Probes never fail
// the group, so the only way out early is ctx being cancelled, in which case
// the remaining probes resolve as failures.
func (p *Prober) ProbeAll(ctx context.Context, sources []Source, limit int) []Result {
	results := make([]Result, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range sources {
		g.Go(func() error {
			results[i] = p.Probe(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
