package raster

import (
	"fmt"
	"math"
)

// Grid is an immutable row-major raster of float64 values with an explicit
// nodata sentinel. Cells holding the sentinel, or NaN, carry no observation.
type Grid struct {
	width  int
	height int
	data   []float64
	nodata float64
}

// MaxCells bounds width*height for any grid.
const MaxCells = 1 << 27

// checkDims rejects non-positive dimensions and products above MaxCells.
func checkDims(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: grid dimensions must be positive, got %dx%d", ErrInvalidParameter, width, height)
	}
	if height > MaxCells/width {
		return fmt.Errorf("%w: grid %dx%d exceeds %d cells", ErrInvalidParameter, width, height, MaxCells)
	}
	return nil
}

// NewGrid copies data into a new width x height grid.
func NewGrid(width, height int, data []float64, nodata float64) (*Grid, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: grid data length %d does not match %dx%d", ErrInvalidParameter, len(data), width, height)
	}
	cp := make([]float64, len(data))
	copy(cp, data)
	return &Grid{width: width, height: height, data: cp, nodata: nodata}, nil
}

// MustGrid is NewGrid that panics on error. Intended for fixtures and tests.
func MustGrid(width, height int, data []float64, nodata float64) *Grid {
	g, err := NewGrid(width, height, data, nodata)
	if err != nil {
		panic(err)
	}
	return g
}

// NewFilledGrid returns a grid with every cell set to v.
func NewFilledGrid(width, height int, v, nodata float64) (*Grid, error) {
	b, err := NewBuilder(width, height, nodata)
	if err != nil {
		return nil, err
	}
	for i := range b.data {
		b.data[i] = v
	}
	return b.Finish(), nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Len returns width*height.
func (g *Grid) Len() int { return len(g.data) }

// NoData returns the sentinel marking cells without an observation.
func (g *Grid) NoData() float64 { return g.nodata }

// index converts (row, col) to a flat offset and fails fast when the
// coordinates fall outside the grid.
func (g *Grid) index(row, col int) int {
	if row < 0 || row >= g.height || col < 0 || col >= g.width {
		panic(fmt.Sprintf("raster: index (%d,%d) out of range for %dx%d grid", row, col, g.width, g.height))
	}
	return row*g.width + col
}

// At returns the stored value at (row, col), which may be the sentinel.
func (g *Grid) At(row, col int) float64 {
	return g.data[g.index(row, col)]
}

// IsValid reports whether (row, col) holds an observation.
func (g *Grid) IsValid(row, col int) bool {
	return g.valid(g.data[g.index(row, col)])
}

// AtIndex returns the value at flat offset i.
func (g *Grid) AtIndex(i int) float64 {
	return g.data[i]
}

// IsValidIndex reports whether flat offset i holds an observation.
func (g *Grid) IsValidIndex(i int) bool {
	return g.valid(g.data[i])
}

func (g *Grid) valid(v float64) bool {
	return IsValidValue(v, g.nodata)
}

// IsValidValue reports whether v is an observation under the given sentinel.
// NaN is never an observation, whatever the sentinel.
func IsValidValue(v, nodata float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return v != nodata
}

// Values returns a copy of the row-major cell values.
func (g *Grid) Values() []float64 {
	cp := make([]float64, len(g.data))
	copy(cp, g.data)
	return cp
}

// Row returns a copy of one row.
func (g *Grid) Row(row int) []float64 {
	start := g.index(row, 0)
	cp := make([]float64, g.width)
	copy(cp, g.data[start:start+g.width])
	return cp
}

// ValidCount returns the number of cells holding an observation.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.data {
		if g.valid(v) {
			n++
		}
	}
	return n
}

// SameShape reports whether g and o have equal dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return o != nil && g.width == o.width && g.height == o.height
}

// String implements fmt.Stringer.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, nodata=%v)", g.width, g.height, g.nodata)
}

// CheckCoRegistered verifies that all grids share the first grid's
// dimensions. Geographic registration is the raster source's guarantee; only
// the shape can be checked here.
func CheckCoRegistered(grids ...*Grid) error {
	if len(grids) == 0 {
		return fmt.Errorf("%w: no grids supplied", ErrInvalidParameter)
	}
	for i, g := range grids {
		if g == nil {
			return fmt.Errorf("%w: grid %d is nil", ErrInvalidParameter, i)
		}
	}
	ref := grids[0]
	for i, g := range grids[1:] {
		if !ref.SameShape(g) {
			return fmt.Errorf("%w: grid %d is %dx%d, expected %dx%d",
				ErrInvalidParameter, i+1, g.width, g.height, ref.width, ref.height)
		}
	}
	return nil
}

// Builder accumulates cell values for a grid that is produced exactly once.
// Writers in different goroutines may fill disjoint rows concurrently.
type Builder struct {
	width  int
	height int
	data   []float64
	nodata float64
	done   bool
}

// NewBuilder returns a builder whose cells all start as nodata.
func NewBuilder(width, height int, nodata float64) (*Builder, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	data := make([]float64, width*height)
	for i := range data {
		data[i] = nodata
	}
	return &Builder{width: width, height: height, data: data, nodata: nodata}, nil
}

// NewBuilderLike returns a builder with g's shape and sentinel.
func NewBuilderLike(g *Grid) *Builder {
	b, _ := NewBuilder(g.width, g.height, g.nodata)
	return b
}

// Set writes v at (row, col).
func (b *Builder) Set(row, col int, v float64) {
	if row < 0 || row >= b.height || col < 0 || col >= b.width {
		panic(fmt.Sprintf("raster: index (%d,%d) out of range for %dx%d builder", row, col, b.width, b.height))
	}
	b.data[row*b.width+col] = v
}

// SetIndex writes v at flat offset i.
func (b *Builder) SetIndex(i int, v float64) {
	b.data[i] = v
}

// Finish hands the cells over to an immutable grid. The builder must not be
// used afterwards.
func (b *Builder) Finish() *Grid {
	if b.done {
		panic("raster: builder finished twice")
	}
	b.done = true
	g := &Grid{width: b.width, height: b.height, data: b.data, nodata: b.nodata}
	b.data = nil
	return g
}
