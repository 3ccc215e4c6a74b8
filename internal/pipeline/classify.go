package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/canopy.report/internal/classify"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// NewClassifier builds the pixel classifier described by cfg: the per-band
// threshold rule, or a Gaussian naive Bayes model loaded from model_path.
func NewClassifier(cfg *config.PipelineConfig) (classify.Classifier, error) {
	switch cfg.GetClassifier() {
	case config.ClassifierThreshold:
		return classify.NewThreshold(cfg.GetBandThresholds()...)
	case config.ClassifierModel:
		nb, err := classify.LoadGaussianNB(cfg.GetModelPath())
		if err != nil {
			return nil, err
		}
		bands := len(cfg.GetBands())
		if nb.Features() != bands {
			return nil, fmt.Errorf("%w: model fitted on %d features, %d bands configured",
				raster.ErrInvalidParameter, nb.Features(), bands)
		}
		m, err := classify.NewModel(nb, bands)
		if err != nil {
			return nil, err
		}
		m.Workers = cfg.GetWorkers()
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown classifier %q", raster.ErrInvalidParameter, cfg.GetClassifier())
}

// Classify writes a forest mask for every despeckled granule. clf may be nil,
// in which case NewClassifier(p.Config) is used.
func (p *Pipeline) Classify(ctx context.Context, clf classify.Classifier) (Summary, error) {
	var s Summary
	if clf == nil {
		var err error
		if clf, err = NewClassifier(p.Config); err != nil {
			return s, err
		}
	}
	name := p.Config.GetClassifier()
	bands := p.Config.GetBands()

	infos, err := p.Store.List(ctx, p.Layout.DatasetPrefix(p.Layout.Filtered))
	if err != nil {
		return s, fmt.Errorf("failed to list filtered granules: %w", err)
	}
	ids := p.Layout.FilteredGranules(infos, bands)
	logf("classify: %d filtered granules, classifier %s", len(ids), name)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		start := time.Now()
		skipped, err := p.classifyGranule(ctx, clf, name, id, bands)
		if err := p.settle(ctx, StageClassify, id, start, skipped, err, &s); err != nil {
			return s, err
		}
	}
	logf("classify: %s", s)
	return s, nil
}

func (p *Pipeline) classifyGranule(ctx context.Context, clf classify.Classifier, name, id string, bands []string) (bool, error) {
	out := p.Layout.Mask(id, name)
	if !p.Overwrite {
		done, err := p.allExist(ctx, []string{out})
		if err != nil || done {
			return done, err
		}
	}
	keys := make([]string, len(bands))
	for i, b := range bands {
		keys[i] = p.Layout.FilteredBand(id, b)
	}
	return false, p.source().With(ctx, keys, func(grids []*raster.Grid, ref raster.Profile) error {
		labels, err := clf.Classify(grids)
		if err != nil {
			return err
		}
		md := map[string]string{
			"granule":    id,
			"classifier": name,
			"bands":      strings.Join(bands, ","),
		}
		if _, err := p.sink().Put(ctx, out, labels, ref, md); err != nil {
			return err
		}
		p.Metrics.ValidRatio(StageClassify, labels.ValidCount(), labels.Len())
		return nil
	})
}
