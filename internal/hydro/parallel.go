package hydro

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minBandRows keeps bands large enough that scheduling does not dominate.
const minBandRows = 16

// forEachBand splits [0, rows) into contiguous bands and runs fn on each with
// at most workers goroutines. Each band owns its rows exclusively, so fn may
// write the matching slice range of an output without synchronisation.
func forEachBand(ctx context.Context, rows, workers int, fn func(r0, r1 int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	size := (rows + workers - 1) / workers
	if size < minBandRows {
		size = minBandRows
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r0 := 0; r0 < rows; r0 += size {
		r1 := min(r0+size, rows)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(r0, r1)
		})
	}
	return g.Wait()
}
