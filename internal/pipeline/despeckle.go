package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/canopy.report/internal/despeckle"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/raster"
)

var despeckleLogf = monitoring.Component("despeckle")

// Despeckle calibrates and filters every raw granule that has all configured
// bands. Granules whose filtered bands all exist are skipped unless
// Overwrite is set.
func (p *Pipeline) Despeckle(ctx context.Context) (Summary, error) {
	var s Summary
	bands := p.Config.GetBands()
	params := p.Config.DespeckleParams()
	if err := params.Validate(); err != nil {
		return s, err
	}

	infos, err := p.Store.List(ctx, p.Layout.DatasetPrefix(p.Layout.Raw))
	if err != nil {
		return s, fmt.Errorf("failed to list raw granules: %w", err)
	}
	ids := p.Layout.RawGranules(infos, bands)
	despeckleLogf("%d raw granules with bands %v", len(ids), bands)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		start := time.Now()
		skipped, err := p.despeckleGranule(ctx, id, bands, params)
		if err := p.settle(ctx, StageDespeckle, id, start, skipped, err, &s); err != nil {
			return s, err
		}
	}
	despeckleLogf("done: %s", s)
	return s, nil
}

func (p *Pipeline) despeckleGranule(ctx context.Context, id string, bands []string, params despeckle.Params) (skipped bool, err error) {
	inKeys := make([]string, len(bands))
	outKeys := make([]string, len(bands))
	for i, b := range bands {
		inKeys[i] = p.Layout.RawBand(id, b)
		outKeys[i] = p.Layout.FilteredBand(id, b)
	}
	if !p.Overwrite {
		done, err := p.allExist(ctx, outKeys)
		if err != nil {
			return false, err
		}
		if done {
			despeckleLogf("%s already processed", id)
			return true, nil
		}
	}

	calibration := p.Config.GetCalibration()
	sink := p.sink()
	return false, p.source().With(ctx, inKeys, func(grids []*raster.Grid, ref raster.Profile) error {
		eg, ectx := errgroup.WithContext(ctx)
		for i := range grids {
			eg.Go(func() error {
				power, err := despeckle.Calibrate(grids[i], calibration)
				if err != nil {
					return err
				}
				filtered, err := despeckle.EnhancedLee(power, params)
				if err != nil {
					return fmt.Errorf("band %s: %w", bands[i], err)
				}
				md := map[string]string{
					"granule":     id,
					"band":        bands[i],
					"window_size": strconv.Itoa(params.WindowSize),
					"looks":       strconv.FormatFloat(params.Looks, 'g', -1, 64),
				}
				if _, err := sink.Put(ectx, outKeys[i], filtered, ref, md); err != nil {
					return err
				}
				p.Metrics.ValidRatio(StageDespeckle, filtered.ValidCount(), filtered.Len())
				return nil
			})
		}
		return eg.Wait()
	})
}
