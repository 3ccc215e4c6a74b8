// Package classify labels filtered backscatter pixels as forest or
// non-forest.
//
// Two interchangeable rules are provided: a fixed per-band threshold rule and
// a model rule that defers to an externally fitted binary predictor. Both
// produce a grid of the input's shape holding LabelForest, LabelNonForest or
// NaN, and neither ever evaluates a pixel where a band is nodata.
package classify

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Label values written to classified grids.
const (
	LabelNonForest = 0.0
	LabelForest    = 1.0
)

// Classifier turns co-registered bands into a label grid. The bands are
// ordered as the classifier was configured (for Sentinel-1: VV, VH).
type Classifier interface {
	Classify(bands []*raster.Grid) (*raster.Grid, error)
}

// checkBands validates the band stack shared by both rules.
func checkBands(bands []*raster.Grid, want int) error {
	if len(bands) != want {
		return fmt.Errorf("%w: expected %d bands, got %d", raster.ErrInvalidParameter, want, len(bands))
	}
	return raster.CheckCoRegistered(bands...)
}

// anyNodata reports whether any band lacks an observation at offset i.
func anyNodata(bands []*raster.Grid, i int) bool {
	for _, b := range bands {
		if !b.IsValidIndex(i) {
			return true
		}
	}
	return false
}

// newLabelBuilder allocates an all-nodata label grid shaped like ref.
func newLabelBuilder(ref *raster.Grid) *raster.Builder {
	b, _ := raster.NewBuilder(ref.Width(), ref.Height(), math.NaN())
	return b
}

// Threshold labels a pixel forest iff every band strictly exceeds its
// threshold.
type Threshold struct {
	Thresholds []float64
}

// NewThreshold returns a threshold rule for len(thresholds) bands.
func NewThreshold(thresholds ...float64) (*Threshold, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("%w: at least one threshold is required", raster.ErrInvalidParameter)
	}
	for i, v := range thresholds {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: threshold %d is NaN", raster.ErrInvalidParameter, i)
		}
	}
	cp := make([]float64, len(thresholds))
	copy(cp, thresholds)
	return &Threshold{Thresholds: cp}, nil
}

// Classify implements Classifier.
func (t *Threshold) Classify(bands []*raster.Grid) (*raster.Grid, error) {
	if err := checkBands(bands, len(t.Thresholds)); err != nil {
		return nil, err
	}
	out := newLabelBuilder(bands[0])
	for i := 0; i < bands[0].Len(); i++ {
		if anyNodata(bands, i) {
			continue
		}
		label := LabelForest
		for b, band := range bands {
			if !(band.AtIndex(i) > t.Thresholds[b]) {
				label = LabelNonForest
				break
			}
		}
		out.SetIndex(i, label)
	}
	return out.Finish(), nil
}
