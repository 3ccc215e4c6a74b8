package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/canopy.report/internal/catalog"
	"github.com/banshee-data/canopy.report/internal/granule"
	"github.com/banshee-data/canopy.report/internal/monitoring"
)

// Index lists the classified prefix and records every mask in the catalog
// with the acquisition date parsed from its granule ID. Masks whose date
// cannot be parsed are logged and skipped.
func (p *Pipeline) Index(ctx context.Context) (Summary, error) {
	var s Summary
	if err := p.requireCatalog(); err != nil {
		return s, err
	}
	start := time.Now()
	infos, err := p.Store.List(ctx, p.Layout.DatasetPrefix(p.Layout.Classified))
	if err != nil {
		return s, fmt.Errorf("failed to list masks: %w", err)
	}

	var rows []catalog.Granule
	for _, inf := range infos {
		id, clf, ok := p.Layout.MaskGranule(inf.Key)
		if !ok {
			continue
		}
		acquired, err := granule.AcquisitionDate(id)
		if err != nil {
			logf("index: %s: %v", inf.Key, err)
			s.Failed++
			p.Metrics.Granule(StageIndex, monitoring.OutcomeFailed)
			continue
		}
		rows = append(rows, catalog.Granule{
			Key:        inf.Key,
			ID:         id,
			Dataset:    strings.SplitN(id, "/", 2)[0],
			Classifier: clf,
			Acquired:   acquired,
			Size:       inf.Size,
		})
	}
	if err := p.Catalog.UpsertGranules(ctx, rows); err != nil {
		return s, err
	}
	s.Processed = len(rows)
	for range rows {
		p.Metrics.Granule(StageIndex, monitoring.OutcomeProcessed)
	}
	p.Metrics.ObserveDuration(StageIndex, start)
	logf("index: %s", s)
	return s, nil
}
