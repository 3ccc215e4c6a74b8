package classify

import (
	"fmt"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Predictor is a fitted binary classifier. Predict receives one feature row
// per pixel, band values in configured order, and returns one label (0 or 1)
// per row. Implementations must be safe for concurrent use.
type Predictor interface {
	Predict(rows [][]float64) ([]int, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(rows [][]float64) ([]int, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(rows [][]float64) ([]int, error) { return f(rows) }

// DefaultBatchSize caps the feature rows handed to one Predict call.
const DefaultBatchSize = 65536

// Model labels pixels with a Predictor. Pixels with any nodata feature are
// labelled nodata without being predicted.
type Model struct {
	Predictor Predictor
	Bands     int // number of feature bands expected
	Workers   int // row-band workers; <= 0 means one per CPU
	BatchSize int // rows per Predict call; <= 0 means DefaultBatchSize
}

// NewModel returns a model rule over the given number of bands.
func NewModel(p Predictor, bands int) (*Model, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil predictor", raster.ErrInvalidParameter)
	}
	if bands <= 0 {
		return nil, fmt.Errorf("%w: model needs at least one band, got %d", raster.ErrInvalidParameter, bands)
	}
	return &Model{Predictor: p, Bands: bands}, nil
}

// Classify implements Classifier. Row bands are predicted concurrently.
func (m *Model) Classify(bands []*raster.Grid) (*raster.Grid, error) {
	if m.Predictor == nil {
		return nil, fmt.Errorf("%w: nil predictor", raster.ErrInvalidParameter)
	}
	if err := checkBands(bands, m.Bands); err != nil {
		return nil, err
	}
	batch := m.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	ref := bands[0]
	width := ref.Width()
	out := newLabelBuilder(ref)

	err := raster.ParallelRows(ref.Height(), m.Workers, func(r0, r1 int) error {
		rows := make([][]float64, 0, min(batch, (r1-r0)*width))
		idx := make([]int, 0, cap(rows))

		flush := func() error {
			if len(rows) == 0 {
				return nil
			}
			labels, err := m.Predictor.Predict(rows)
			if err != nil {
				return fmt.Errorf("predict rows %d-%d: %w", r0, r1, err)
			}
			if len(labels) != len(rows) {
				return fmt.Errorf("predictor returned %d labels for %d rows", len(labels), len(rows))
			}
			for k, l := range labels {
				switch l {
				case 0:
					out.SetIndex(idx[k], LabelNonForest)
				case 1:
					out.SetIndex(idx[k], LabelForest)
				default:
					return fmt.Errorf("predictor returned label %d, expected 0 or 1", l)
				}
			}
			rows, idx = rows[:0], idx[:0]
			return nil
		}

		for i := r0 * width; i < r1*width; i++ {
			if anyNodata(bands, i) {
				continue
			}
			feat := make([]float64, len(bands))
			for b, band := range bands {
				feat[b] = band.AtIndex(i)
			}
			rows = append(rows, feat)
			idx = append(idx, i)
			if len(rows) == batch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
	if err != nil {
		return nil, err
	}
	return out.Finish(), nil
}
