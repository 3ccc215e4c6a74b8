package change

import (
	"fmt"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Difference returns end − start per pixel. Pixels missing from either grid
// are nodata in the result, which keeps start's sentinel. For label grids a
// value of −1 marks forest lost between the two dates and +1 forest gained.
func Difference(start, end *raster.Grid) (*raster.Grid, error) {
	if err := raster.CheckCoRegistered(start, end); err != nil {
		return nil, fmt.Errorf("difference: %w", err)
	}
	out := raster.NewBuilderLike(start)
	for i := 0; i < start.Len(); i++ {
		if !start.IsValidIndex(i) || !end.IsValidIndex(i) {
			continue
		}
		out.SetIndex(i, end.AtIndex(i)-start.AtIndex(i))
	}
	return out.Finish(), nil
}
