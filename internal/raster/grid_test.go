package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrid_CopiesData(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	g, err := NewGrid(3, 2, data, -9999)
	require.NoError(t, err)

	data[0] = 42
	assert.Equal(t, 1.0, g.At(0, 0), "grid must not alias caller data")
	assert.Equal(t, 6.0, g.At(1, 2))
	assert.Equal(t, 3, g.Width())
	assert.Equal(t, 2, g.Height())
	assert.Equal(t, 6, g.Len())
}

func TestNewGrid_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		values int
	}{
		{"zero width", 0, 2, 0},
		{"negative height", 2, -1, 0},
		{"short data", 2, 2, 3},
		{"long data", 2, 2, 5},
		{"product wraps to zero", 1 << 32, 1 << 32, 0},
		{"over cell limit", MaxCells, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrid(tt.w, tt.h, make([]float64, tt.values), 0)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestGrid_IsValid(t *testing.T) {
	g := MustGrid(2, 2, []float64{1, -9999, math.NaN(), 0}, -9999)

	assert.True(t, g.IsValid(0, 0))
	assert.False(t, g.IsValid(0, 1), "sentinel is not an observation")
	assert.False(t, g.IsValid(1, 0), "NaN is never an observation")
	assert.True(t, g.IsValid(1, 1))
	assert.Equal(t, 2, g.ValidCount())
}

func TestGrid_NaNSentinel(t *testing.T) {
	g := MustGrid(2, 1, []float64{math.NaN(), 3}, math.NaN())
	assert.False(t, g.IsValid(0, 0))
	assert.True(t, g.IsValid(0, 1))
}

func TestGrid_OutOfRangePanics(t *testing.T) {
	g := MustGrid(2, 2, []float64{1, 2, 3, 4}, 0)
	for _, rc := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		assert.Panics(t, func() { g.At(rc[0], rc[1]) }, "At(%d,%d)", rc[0], rc[1])
		assert.Panics(t, func() { g.IsValid(rc[0], rc[1]) }, "IsValid(%d,%d)", rc[0], rc[1])
	}
}

func TestGrid_ValuesAndRowAreCopies(t *testing.T) {
	g := MustGrid(2, 2, []float64{1, 2, 3, 4}, 0)
	v := g.Values()
	v[0] = 99
	r := g.Row(1)
	r[0] = 99
	assert.Equal(t, 1.0, g.At(0, 0))
	assert.Equal(t, 3.0, g.At(1, 0))
	assert.Equal(t, []float64{3, 4}, g.Row(1))
}

func TestCheckCoRegistered(t *testing.T) {
	a := MustGrid(2, 2, make([]float64, 4), 0)
	b := MustGrid(2, 2, make([]float64, 4), 0)
	c := MustGrid(4, 1, make([]float64, 4), 0)

	assert.NoError(t, CheckCoRegistered(a, b))
	assert.ErrorIs(t, CheckCoRegistered(a, c), ErrInvalidParameter)
	assert.ErrorIs(t, CheckCoRegistered(), ErrInvalidParameter)
	assert.ErrorIs(t, CheckCoRegistered(a, nil), ErrInvalidParameter)
}

func TestBuilder(t *testing.T) {
	b, err := NewBuilder(3, 1, -1)
	require.NoError(t, err)
	b.Set(0, 1, 5)
	b.SetIndex(2, 7)
	g := b.Finish()

	assert.Equal(t, []float64{-1, 5, 7}, g.Values())
	assert.False(t, g.IsValid(0, 0))
	assert.Panics(t, func() { b.Finish() })
}

func TestNewBuilder_RejectsOversize(t *testing.T) {
	_, err := NewBuilder(1<<32, 1<<32, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewBuilder(MaxCells/2+1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewFilledGrid(t *testing.T) {
	g, err := NewFilledGrid(2, 3, 1.5, math.NaN())
	require.NoError(t, err)
	for i := 0; i < g.Len(); i++ {
		assert.Equal(t, 1.5, g.AtIndex(i))
	}
}
