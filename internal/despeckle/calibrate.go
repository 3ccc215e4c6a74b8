package despeckle

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// DefaultCalibration scales squared amplitude DN to gamma0 power for the
// RTC30 granules this pipeline ingests.
const DefaultCalibration = 100.0

// Calibrate converts amplitude digital numbers to power: dn² * k. Nodata
// cells stay nodata.
func Calibrate(dn *raster.Grid, k float64) (*raster.Grid, error) {
	if dn == nil {
		return nil, fmt.Errorf("%w: nil grid", raster.ErrInvalidParameter)
	}
	if !(k > 0) || math.IsInf(k, 0) {
		return nil, fmt.Errorf("%w: calibration constant must be positive, got %v", raster.ErrInvalidParameter, k)
	}
	out := raster.NewBuilderLike(dn)
	for i := 0; i < dn.Len(); i++ {
		if !dn.IsValidIndex(i) {
			continue
		}
		v := dn.AtIndex(i)
		out.SetIndex(i, v*v*k)
	}
	return out.Finish(), nil
}

// LocalStd replaces every pixel with the standard deviation of its window.
// Used for auxiliary bands such as the incidence-angle map, where local
// texture matters more than level.
func LocalStd(g *raster.Grid, windowSize, workers int) (*raster.Grid, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", raster.ErrInvalidParameter)
	}
	stats, err := raster.WindowStats(g, windowSize, workers)
	if err != nil {
		return nil, err
	}
	out := raster.NewBuilderLike(g)
	for i := 0; i < g.Len(); i++ {
		if stats.Count.AtIndex(i) == 0 {
			continue
		}
		out.SetIndex(i, stats.Std(i))
	}
	return out.Finish(), nil
}
