package raster

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// bandsPerWorker oversubscribes the pool a little so slow bands (dense
// windows near data edges) don't leave workers idle.
const bandsPerWorker = 4

// Workers resolves a configured worker count; non-positive means one per
// available CPU.
func Workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// ParallelRows splits [0, height) into contiguous row bands and calls fn for
// each band on a bounded pool of workers. Callers must confine writes to the
// rows of their band. The first error cancels nothing already running but is
// the one returned.
func ParallelRows(height, workers int, fn func(rowStart, rowEnd int) error) error {
	if height <= 0 {
		return nil
	}
	workers = Workers(workers)
	if workers == 1 || height == 1 {
		return fn(0, height)
	}

	bands := workers * bandsPerWorker
	if bands > height {
		bands = height
	}
	step := (height + bands - 1) / bands

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < height; start += step {
		end := start + step
		if end > height {
			end = height
		}
		g.Go(func() error { return fn(start, end) })
	}
	return g.Wait()
}
