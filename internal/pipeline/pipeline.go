// Package pipeline runs the processing stages over a blob store: despeckle
// raw bands, classify forest, index masks in the catalog, and build loss and
// difference products.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/canopy.report/internal/blob"
	"github.com/banshee-data/canopy.report/internal/catalog"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/granule"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// Stage names, used as metric labels.
const (
	StageDespeckle = "despeckle"
	StageClassify  = "classify"
	StageIndex     = "index"
	StageLoss      = "loss"
	StageDiff      = "diff"
)

var logf = monitoring.Component("pipeline")

// Pipeline holds the collaborators shared by every stage.
type Pipeline struct {
	Store   blob.Store
	Catalog *catalog.Catalog // required by Index, Loss and Difference
	Config  *config.PipelineConfig
	Layout  granule.Layout
	Metrics *monitoring.Metrics // may be nil

	// Overwrite regenerates products that already exist. Otherwise
	// despeckle and classify skip finished granules and products are
	// create-only.
	Overwrite bool
}

// New returns a pipeline over store. A nil cfg uses the built-in defaults.
func New(store blob.Store, cat *catalog.Catalog, cfg *config.PipelineConfig) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil blob store", raster.ErrInvalidParameter)
	}
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		Store:   store,
		Catalog: cat,
		Config:  cfg,
		Layout:  granule.DefaultLayout(cfg.GetDataset()),
	}, nil
}

func (p *Pipeline) source() *granule.Source {
	return &granule.Source{Store: p.Store}
}

func (p *Pipeline) sink() *granule.Sink {
	return &granule.Sink{Store: p.Store, Overwrite: p.Overwrite}
}

func (p *Pipeline) requireCatalog() error {
	if p.Catalog == nil {
		return fmt.Errorf("%w: stage needs a catalog", raster.ErrInvalidParameter)
	}
	return nil
}

// Summary counts granule outcomes of one batch stage.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d processed, %d skipped, %d failed", s.Processed, s.Skipped, s.Failed)
}

// settle records the outcome of one granule. Parameters are validated
// before a batch starts, so a granule error is a data problem: it is logged
// and counted and the batch continues. Cancellation aborts the batch.
func (p *Pipeline) settle(ctx context.Context, stage, id string, start time.Time, skipped bool, err error, s *Summary) error {
	switch {
	case err == nil && skipped:
		s.Skipped++
		p.Metrics.Granule(stage, monitoring.OutcomeSkipped)
		return nil
	case err == nil:
		s.Processed++
		p.Metrics.Granule(stage, monitoring.OutcomeProcessed)
		p.Metrics.ObserveDuration(stage, start)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.Failed++
	p.Metrics.Granule(stage, monitoring.OutcomeFailed)
	logf("%s: skipping granule %s: %v", stage, id, err)
	return nil
}

// allExist reports whether every key is already in the store.
func (p *Pipeline) allExist(ctx context.Context, keys []string) (bool, error) {
	for _, k := range keys {
		ok, err := blob.Exists(ctx, p.Store, k)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
