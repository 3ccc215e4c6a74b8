// Package quicklook renders products for a quick visual check: a PNG heat
// map of any grid and an HTML histogram of loss counts.
package quicklook

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// gridXYZ adapts a grid to plotter.GridXYZ. Plot rows run bottom-up, so
// row r of the plot is grid row height-1-r.
type gridXYZ struct {
	g *raster.Grid
}

func (x gridXYZ) Dims() (c, r int) { return x.g.Width(), x.g.Height() }
func (x gridXYZ) X(c int) float64  { return float64(c) }
func (x gridXYZ) Y(r int) float64  { return float64(r) }

func (x gridXYZ) Z(c, r int) float64 {
	row := x.g.Height() - 1 - r
	if !x.g.IsValid(row, c) {
		return math.NaN()
	}
	return x.g.At(row, c)
}

// valueRange returns the min and max valid values, widened to a non-empty
// interval.
func valueRange(g *raster.Grid) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < g.Len(); i++ {
		if !g.IsValidIndex(i) {
			continue
		}
		v := g.AtIndex(i)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

// HeatMapOptions controls HeatMap output.
type HeatMapOptions struct {
	Title string
	Size  vg.Length // edge of the square image; 0 means 6 inches
	// Palette overrides the default heat palette.
	Palette palette.Palette
}

// HeatMap writes g as a PNG heat map. Nodata cells are transparent.
func HeatMap(w io.Writer, g *raster.Grid, o HeatMapOptions) error {
	if g == nil {
		return fmt.Errorf("%w: nil grid", raster.ErrInvalidParameter)
	}
	pal := o.Palette
	if pal == nil {
		pal = palette.Heat(64, 1)
	}
	size := o.Size
	if size <= 0 {
		size = 6 * vg.Inch
	}

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (from bottom)"

	hm := plotter.NewHeatMap(gridXYZ{g}, pal)
	hm.Min, hm.Max = valueRange(g)
	hm.NaN = color.Transparent
	p.Add(hm)

	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("failed to render heat map: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write heat map: %w", err)
	}
	return nil
}
