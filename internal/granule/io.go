package granule

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/canopy.report/internal/blob"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// Source reads grids from a blob store.
type Source struct {
	Store blob.Store
}

// Read fetches and decodes one grid.
func (s *Source) Read(ctx context.Context, key string) (*raster.Grid, raster.Profile, error) {
	_, rc, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, raster.Profile{}, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer rc.Close()
	g, p, err := raster.DecodeBlob(rc)
	if err != nil {
		return nil, raster.Profile{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return g, p, nil
}

// With reads keys concurrently, checks the grids are co-registered and
// calls fn with them in key order together with the first grid's profile.
// The grids are only valid for the duration of fn.
func (s *Source) With(ctx context.Context, keys []string, fn func(grids []*raster.Grid, ref raster.Profile) error) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no rasters requested", raster.ErrInvalidParameter)
	}
	grids := make([]*raster.Grid, len(keys))
	profiles := make([]raster.Profile, len(keys))
	eg, ectx := errgroup.WithContext(ctx)
	for i, key := range keys {
		eg.Go(func() error {
			g, p, err := s.Read(ectx, key)
			if err != nil {
				return err
			}
			grids[i], profiles[i] = g, p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	defer clear(grids)

	if err := raster.CheckCoRegistered(grids...); err != nil {
		return fmt.Errorf("rasters %v: %w", keys, err)
	}
	return fn(grids, profiles[0])
}

// Sink writes grids to a blob store.
type Sink struct {
	Store blob.Store
	// Overwrite replaces existing products instead of failing with
	// blob.ErrExists.
	Overwrite bool
}

// Put encodes g with the reference profile and stores it under key.
func (s *Sink) Put(ctx context.Context, key string, g *raster.Grid, ref raster.Profile, metadata map[string]string) (blob.Info, error) {
	var buf bytes.Buffer
	if err := raster.EncodeBlob(&buf, g, ref); err != nil {
		return blob.Info{}, err
	}
	info, err := s.Store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: raster.BlobContentType,
		Metadata:    metadata,
		Overwrite:   s.Overwrite,
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("failed to write %s: %w", key, err)
	}
	return info, nil
}
