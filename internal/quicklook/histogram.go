package quicklook

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// CountHistogram tallies valid cells of a count grid by value. Values are
// rounded to the nearest integer and negatives are ignored. The result has
// one entry per count from 0 to the largest seen.
func CountHistogram(g *raster.Grid) []int {
	var hist []int
	for i := 0; i < g.Len(); i++ {
		if !g.IsValidIndex(i) {
			continue
		}
		v := math.Round(g.AtIndex(i))
		if v < 0 {
			continue
		}
		n := int(v)
		for len(hist) <= n {
			hist = append(hist, 0)
		}
		hist[n]++
	}
	return hist
}

// LossHistogram writes an HTML page with a bar chart of loss counts.
func LossHistogram(w io.Writer, g *raster.Grid, title, subtitle string) error {
	if g == nil {
		return fmt.Errorf("%w: nil grid", raster.ErrInvalidParameter)
	}
	hist := CountHistogram(g)
	x := make([]string, len(hist))
	y := make([]opts.BarData, len(hist))
	for i, n := range hist {
		x[i] = strconv.Itoa(i)
		y[i] = opts.BarData{Value: n}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "consecutive losses", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)
	bar.SetXAxis(x).
		AddSeries("pixels", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render histogram: %w", err)
	}
	return nil
}
