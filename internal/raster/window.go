package raster

import (
	"fmt"
	"math"
)

// DefaultWindowSize is the side length of the square statistics window.
const DefaultWindowSize = 5

// varianceRelEpsilon bounds the floating-point cancellation tolerated in
// E[X²] − E[X]² before the variance is forced to exactly zero.
const varianceRelEpsilon = 1e-10

// WindowSummary holds per-pixel statistics over a square window. All three
// grids share the source grid's shape and use NaN as their sentinel.
// Where Count is 0, Mean and Variance are NaN.
type WindowSummary struct {
	Size     int
	Count    *Grid
	Mean     *Grid
	Variance *Grid
}

// Std returns the standard deviation at flat offset i, or NaN where the
// window held no observations.
func (s *WindowSummary) Std(i int) float64 {
	return math.Sqrt(s.Variance.AtIndex(i))
}

// ValidateWindowSize checks that size is a positive odd integer.
func ValidateWindowSize(size int) error {
	if size <= 0 || size%2 == 0 {
		return fmt.Errorf("%w: window size must be a positive odd integer, got %d", ErrInvalidParameter, size)
	}
	return nil
}

// WindowStats computes the count of valid neighbours and their mean and
// population variance in a size x size window centred on every pixel. The
// window is clipped to the grid: out-of-bounds and nodata cells are left out
// of every sum rather than padded.
func WindowStats(g *Grid, size, workers int) (*WindowSummary, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", ErrInvalidParameter)
	}
	if err := ValidateWindowSize(size); err != nil {
		return nil, err
	}

	w, h := g.width, g.height
	half := size / 2
	n := len(g.data)

	// Horizontal pass: per-row window sums of x, x² and the valid count.
	rowSum := make([]float64, n)
	rowSum2 := make([]float64, n)
	rowCount := make([]float64, n)
	err := ParallelRows(h, workers, func(r0, r1 int) error {
		for r := r0; r < r1; r++ {
			base := r * w
			for c := 0; c < w; c++ {
				lo, hi := max(c-half, 0), min(c+half, w-1)
				var s, s2, cnt float64
				for cc := lo; cc <= hi; cc++ {
					v := g.data[base+cc]
					if !g.valid(v) {
						continue
					}
					s += v
					s2 += v * v
					cnt++
				}
				rowSum[base+c] = s
				rowSum2[base+c] = s2
				rowCount[base+c] = cnt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	count := make([]float64, n)
	mean := make([]float64, n)
	variance := make([]float64, n)

	// Vertical pass over the row sums completes the square window.
	err = ParallelRows(h, workers, func(r0, r1 int) error {
		for r := r0; r < r1; r++ {
			lo, hi := max(r-half, 0), min(r+half, h-1)
			for c := 0; c < w; c++ {
				var s, s2, cnt float64
				for rr := lo; rr <= hi; rr++ {
					i := rr*w + c
					s += rowSum[i]
					s2 += rowSum2[i]
					cnt += rowCount[i]
				}
				i := r*w + c
				count[i] = cnt
				if cnt == 0 {
					mean[i] = math.NaN()
					variance[i] = math.NaN()
					continue
				}
				m := s / cnt
				ex2 := s2 / cnt
				mean[i] = m
				variance[i] = clampVariance(ex2-m*m, ex2)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	nan := math.NaN()
	return &WindowSummary{
		Size:     size,
		Count:    &Grid{width: w, height: h, data: count, nodata: nan},
		Mean:     &Grid{width: w, height: h, data: mean, nodata: nan},
		Variance: &Grid{width: w, height: h, data: variance, nodata: nan},
	}, nil
}

// clampVariance forces cancellation noise (including small negative
// results) to exactly zero so a later square root never sees a negative
// argument.
func clampVariance(v, ex2 float64) float64 {
	if v <= varianceRelEpsilon*math.Abs(ex2) {
		return 0
	}
	return v
}
