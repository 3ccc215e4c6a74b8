// Package despeckle reduces multiplicative speckle in radar intensity grids.
package despeckle

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Enhanced Lee constants. cuScale is the speckle coefficient of variation of
// a single-look intensity image; damping is the exponential weight k.
const (
	cuScale = 0.523
	damping = 1.0
)

// Params configures the enhanced Lee filter.
type Params struct {
	WindowSize int     // odd side length of the statistics window
	Looks      float64 // effective number of looks, > 0
	Workers    int     // row-band workers; <= 0 means one per CPU
}

// DefaultParams returns a 5x5 single-look filter.
func DefaultParams() Params {
	return Params{WindowSize: raster.DefaultWindowSize, Looks: 1}
}

// Validate checks the window size and looks count.
func (p Params) Validate() error {
	if err := raster.ValidateWindowSize(p.WindowSize); err != nil {
		return err
	}
	if !(p.Looks > 0) || math.IsInf(p.Looks, 0) {
		return fmt.Errorf("%w: looks must be a positive finite number, got %v", raster.ErrInvalidParameter, p.Looks)
	}
	return nil
}

// Thresholds returns the noise coefficients derived from the looks count:
// cu, the baseline speckle coefficient of variation, and cmax, the upper
// noise bound beyond which a pixel is treated as a point target.
func (p Params) Thresholds() (cu, cmax float64) {
	return cuScale / math.Sqrt(p.Looks), math.Sqrt(1 + 2/p.Looks)
}

// Weight maps a local coefficient of variation to the share given to the
// window mean. Homogeneous areas (ci <= cu) take the mean outright, strong
// edges (ci >= cmax) keep the raw pixel, and the band between interpolates
// exponentially.
func Weight(ci, cu, cmax float64) float64 {
	switch {
	case ci <= cu:
		return 1
	case ci >= cmax:
		return 0
	default:
		return math.Exp(-damping * (ci - cu) / (cmax - ci))
	}
}

// EnhancedLee filters an intensity grid (already power-scaled, see
// Calibrate). Pixels whose window holds no observation come out as nodata.
// A zero local mean makes the coefficient of variation undefined; it is
// taken as 0, which selects the homogeneous branch.
//
// A nodata centre pixel with valid neighbours has no raw term to blend, so it
// takes the local mean when the window is homogeneous and stays nodata
// otherwise.
func EnhancedLee(g *raster.Grid, p Params) (*raster.Grid, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", raster.ErrInvalidParameter)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	stats, err := raster.WindowStats(g, p.WindowSize, p.Workers)
	if err != nil {
		return nil, err
	}
	cu, cmax := p.Thresholds()
	out := raster.NewBuilderLike(g)
	width := g.Width()

	err = raster.ParallelRows(g.Height(), p.Workers, func(r0, r1 int) error {
		for i := r0 * width; i < r1*width; i++ {
			if stats.Count.AtIndex(i) == 0 {
				continue
			}
			mean := stats.Mean.AtIndex(i)
			ci := 0.0
			if mean != 0 {
				ci = stats.Std(i) / mean
			}
			wt := Weight(ci, cu, cmax)

			if !g.IsValidIndex(i) {
				if wt == 1 {
					out.SetIndex(i, mean)
				}
				continue
			}
			out.SetIndex(i, mean*wt+g.AtIndex(i)*(1-wt))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Finish(), nil
}
