package quicklook

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/banshee-data/canopy.report/internal/security"
)

var logf = monitoring.Component("quicklook")

// Writer renders products into a local directory.
type Writer struct {
	Dir string
	FS  fsutil.FileSystem // nil means the OS filesystem
}

// Rendered lists the files written for one product.
type Rendered struct {
	HeatMap   string
	Histogram string // empty unless the product is a count grid
}

func (w *Writer) fs() fsutil.FileSystem {
	if w.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return w.FS
}

// FileStem turns a blob key into a flat, safe file name stem, e.g.
// "products/loss/008/056/loss_s1_2021-02-15.grid" becomes
// "loss_008_056_loss_s1_2021-02-15".
func FileStem(key string) string {
	key = strings.TrimSuffix(key, path.Ext(key))
	key = strings.TrimPrefix(key, "products/")
	return security.SanitizeFilename(strings.ReplaceAll(key, "/", "_"))
}

func (w *Writer) create(name string, render func(io.Writer) error) (p string, err error) {
	p = filepath.Join(w.Dir, name)
	f, err := w.fs().Create(p)
	if err != nil {
		return "", err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return p, render(f)
}

// Product renders the grid stored under key. When counts is set a loss
// histogram is written next to the heat map.
func (w *Writer) Product(key string, g *raster.Grid, counts bool) (Rendered, error) {
	if w.Dir == "" {
		return Rendered{}, fmt.Errorf("%w: no quicklook directory", raster.ErrInvalidParameter)
	}
	if err := w.fs().MkdirAll(w.Dir, 0755); err != nil {
		return Rendered{}, fmt.Errorf("failed to create quicklook dir: %w", err)
	}
	stem := FileStem(key)

	var out Rendered
	var err error
	out.HeatMap, err = w.create(stem+".png", func(f io.Writer) error {
		return HeatMap(f, g, HeatMapOptions{Title: key})
	})
	if err != nil {
		return Rendered{}, err
	}
	if counts {
		valid := g.ValidCount()
		sub := fmt.Sprintf("%d valid of %d pixels", valid, g.Len())
		out.Histogram, err = w.create(stem+".html", func(f io.Writer) error {
			return LossHistogram(f, g, key, sub)
		})
		if err != nil {
			return Rendered{}, err
		}
	}
	logf("rendered %s to %s", key, w.Dir)
	return out, nil
}
