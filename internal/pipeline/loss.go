package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/canopy.report/internal/catalog"
	"github.com/banshee-data/canopy.report/internal/change"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// Run kinds recorded in the catalog.
const (
	RunLoss = "loss"
	RunDiff = "diff"
)

// Product is the outcome of a loss or difference run.
type Product struct {
	RunID  string
	Key    string
	Inputs []string
	Grid   *raster.Grid
}

// Loss accumulates the most recent classified granules of region acquired on
// or before asOf against the baseline tree-cover grid and writes the count
// grid. Granules are applied newest first, the order the catalog returns.
func (p *Pipeline) Loss(ctx context.Context, region string, asOf time.Time) (Product, error) {
	if err := p.requireCatalog(); err != nil {
		return Product{}, err
	}
	start := time.Now()
	asOf = asOf.UTC().Truncate(24 * time.Hour)
	prefix := p.Layout.RegionPrefix(region)
	clf := p.Config.GetClassifier()

	masks, err := p.Catalog.Latest(ctx, prefix, clf, asOf, p.Config.GetObservations())
	if err != nil {
		return Product{}, err
	}
	if len(masks) == 0 {
		return Product{}, fmt.Errorf("%w: no %s masks under %s on or before %s",
			raster.ErrInvalidParameter, clf, prefix, asOf.Format(time.DateOnly))
	}

	opts := p.Config.ChangeOptions()
	baselineKey := p.Config.GetBaselineKey()
	inputs := make([]string, len(masks))
	for i, m := range masks {
		inputs[i] = m.Key
	}
	run, err := p.Catalog.StartRun(ctx, catalog.Run{
		Kind:   RunLoss,
		Region: region,
		AsOf:   asOf,
		Policy: opts.Policy.String(),
		Inputs: inputs,
	})
	if err != nil {
		return Product{}, err
	}
	logf("loss %s: run %s over %d observations", prefix, run.ID, len(masks))

	out := Product{RunID: run.ID, Key: p.Layout.Loss(region, asOf), Inputs: inputs}
	keys := append([]string{baselineKey}, inputs...)
	err = p.source().With(ctx, keys, func(grids []*raster.Grid, ref raster.Profile) error {
		acc, err := change.NewAccumulator(grids[0], opts)
		if err != nil {
			return err
		}
		for i, m := range masks {
			if err := acc.Apply(change.Observation{Labels: grids[i+1], Acquired: m.Acquired}); err != nil {
				return fmt.Errorf("%s: %w", m.Key, err)
			}
			p.Metrics.AccumulatorStep()
		}
		out.Grid = acc.Snapshot()
		md := map[string]string{
			"run_id":       run.ID,
			"as_of":        asOf.Format(time.DateOnly),
			"policy":       opts.Policy.String(),
			"observations": strconv.Itoa(acc.Steps()),
			"baseline":     baselineKey,
		}
		_, err = p.sink().Put(ctx, out.Key, out.Grid, ref, md)
		return err
	})
	return p.finish(ctx, StageLoss, start, out, err)
}

// Difference subtracts the loss grid of region at start from the one at end
// and writes the result. Both loss products must exist.
func (p *Pipeline) Difference(ctx context.Context, region string, startDate, endDate time.Time) (Product, error) {
	if err := p.requireCatalog(); err != nil {
		return Product{}, err
	}
	start := time.Now()
	startDate = startDate.UTC().Truncate(24 * time.Hour)
	endDate = endDate.UTC().Truncate(24 * time.Hour)
	inputs := []string{p.Layout.Loss(region, startDate), p.Layout.Loss(region, endDate)}

	run, err := p.Catalog.StartRun(ctx, catalog.Run{
		Kind:   RunDiff,
		Region: region,
		AsOf:   endDate,
		Inputs: inputs,
	})
	if err != nil {
		return Product{}, err
	}

	out := Product{RunID: run.ID, Key: p.Layout.Difference(region, startDate, endDate), Inputs: inputs}
	err = p.source().With(ctx, inputs, func(grids []*raster.Grid, ref raster.Profile) error {
		d, err := change.Difference(grids[0], grids[1])
		if err != nil {
			return err
		}
		out.Grid = d
		md := map[string]string{
			"run_id": run.ID,
			"start":  startDate.Format(time.DateOnly),
			"end":    endDate.Format(time.DateOnly),
		}
		_, err = p.sink().Put(ctx, out.Key, d, ref, md)
		return err
	})
	return p.finish(ctx, StageDiff, start, out, err)
}

// finish closes the run record and the stage metrics for a product.
func (p *Pipeline) finish(ctx context.Context, stage string, start time.Time, out Product, runErr error) (Product, error) {
	outKey := out.Key
	if runErr != nil {
		outKey = ""
	}
	if err := p.Catalog.FinishRun(context.WithoutCancel(ctx), out.RunID, outKey, runErr); err != nil {
		logf("%s: failed to close run %s: %v", stage, out.RunID, err)
	}
	if runErr != nil {
		p.Metrics.Granule(stage, monitoring.OutcomeFailed)
		return Product{}, fmt.Errorf("%s run %s: %w", stage, out.RunID, runErr)
	}
	p.Metrics.Granule(stage, monitoring.OutcomeProcessed)
	p.Metrics.ObserveDuration(stage, start)
	p.Metrics.ValidRatio(stage, out.Grid.ValidCount(), out.Grid.Len())
	logf("%s: wrote %s (run %s)", stage, out.Key, out.RunID)
	return out, nil
}
