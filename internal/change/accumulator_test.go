package change

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/raster"
)

var nan = math.NaN()

func grid2x2(v ...float64) *raster.Grid {
	return raster.MustGrid(2, 2, v, nan)
}

func obsAt(g *raster.Grid, day int) Observation {
	var ts time.Time
	if day > 0 {
		ts = time.Date(2021, 1, day, 0, 0, 0, 0, time.UTC)
	}
	return Observation{Labels: g, Acquired: ts}
}

// masked renders a count grid with nodata as -1.
func masked(g *raster.Grid) []float64 {
	out := g.Values()
	for i := range out {
		if !g.IsValidIndex(i) {
			out[i] = -1
		}
	}
	return out
}

func TestAccumulate_EndToEndScenario(t *testing.T) {
	baseline := grid2x2(1, 1, 1, 0)
	observations := []Observation{
		obsAt(grid2x2(0, 1, 0, 0), 1),
		obsAt(grid2x2(0, 1, 1, 0), 2),
	}

	got, err := Accumulate(baseline, observations, Options{Policy: Consecutive})
	require.NoError(t, err)

	want := []float64{2, 0, 1, 0}
	if diff := cmp.Diff(want, got.Values()); diff != "" {
		t.Errorf("consecutive counts mismatch (-want +got):\n%s", diff)
	}

	got, err = Accumulate(baseline, observations, Options{Policy: CumulativeSum})
	require.NoError(t, err)
	if diff := cmp.Diff(want, got.Values()); diff != "" {
		t.Errorf("cumulative counts mismatch (-want +got):\n%s", diff)
	}
}

func TestAccumulate_PoliciesDiverge(t *testing.T) {
	baseline := raster.MustGrid(1, 1, []float64{1}, nan)
	seq := []float64{0, 1, 0, 0, 1, 0}
	observations := make([]Observation, len(seq))
	for i, v := range seq {
		observations[i] = obsAt(raster.MustGrid(1, 1, []float64{v}, nan), i+1)
	}

	cons, err := Accumulate(baseline, observations, Options{Policy: Consecutive})
	require.NoError(t, err)
	sum, err := Accumulate(baseline, observations, Options{Policy: CumulativeSum})
	require.NoError(t, err)

	// Consecutive: hit(1) miss hit(no prev) hit(prev)=2 miss hit(no prev).
	assert.Equal(t, 2.0, cons.At(0, 0))
	assert.Equal(t, 4.0, sum.At(0, 0))
}

func TestAccumulator_NodataSkipsStep(t *testing.T) {
	baseline := raster.MustGrid(1, 1, []float64{1}, nan)
	a, err := NewAccumulator(baseline, Options{})
	require.NoError(t, err)

	for _, v := range []float64{0, nan, 0} {
		require.NoError(t, a.Apply(Observation{Labels: raster.MustGrid(1, 1, []float64{v}, nan)}))
	}
	// The gap neither resets nor breaks the run of hits.
	assert.Equal(t, []int32{2}, a.Counts())
	assert.Equal(t, 3, a.Steps())
}

func TestAccumulator_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const w, h, steps = 16, 11, 12

	base := make([]float64, w*h)
	for i := range base {
		base[i] = float64(rng.Intn(2))
		if rng.Float64() < 0.1 {
			base[i] = nan
		}
	}
	baseline := raster.MustGrid(w, h, base, nan)

	for _, policy := range []Policy{Consecutive, CumulativeSum} {
		a, err := NewAccumulator(baseline, Options{Policy: policy, Workers: 3})
		require.NoError(t, err)
		prev := a.Counts()
		for s := 0; s < steps; s++ {
			data := make([]float64, w*h)
			for i := range data {
				switch rng.Intn(3) {
				case 0:
					data[i] = 0
				case 1:
					data[i] = 1
				default:
					data[i] = nan
				}
			}
			require.NoError(t, a.Apply(Observation{Labels: raster.MustGrid(w, h, data, nan)}))
			cur := a.Counts()
			for i := range cur {
				require.GreaterOrEqual(t, cur[i], prev[i], "%v: count decreased at %d step %d", policy, i, s)
				if !baseline.IsValidIndex(i) || baseline.AtIndex(i) != 1 {
					require.Equal(t, int32(0), cur[i], "%v: non-forest baseline pixel %d accumulated", policy, i)
				}
			}
			prev = cur
		}
	}
}

func TestAccumulator_MaskNonForest(t *testing.T) {
	baseline := grid2x2(1, 0, nan, 1)
	got, err := Accumulate(baseline, []Observation{{Labels: grid2x2(0, 0, 0, 1)}}, Options{MaskNonForest: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, -1, 0}, masked(got))

	got, err = Accumulate(baseline, []Observation{{Labels: grid2x2(0, 0, 0, 1)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, masked(got))
}

func TestAccumulator_RejectsMisregisteredObservation(t *testing.T) {
	a, err := NewAccumulator(grid2x2(1, 1, 1, 1), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Apply(obsAt(grid2x2(0, 0, 0, 0), 1)))

	err = a.Apply(Observation{Labels: raster.MustGrid(4, 1, []float64{0, 0, 0, 0}, nan)})
	assert.ErrorIs(t, err, raster.ErrStateConsistency)
	err = a.Apply(Observation{})
	assert.ErrorIs(t, err, raster.ErrStateConsistency)

	assert.Equal(t, 1, a.Steps())
	assert.Equal(t, []int32{1, 1, 1, 1}, a.Counts())
}

func TestAccumulator_RejectsOutOfOrderObservation(t *testing.T) {
	for _, tc := range []struct {
		name string
		days []int
		bad  int // index expected to fail, -1 for none
	}{
		{"ascending", []int{1, 5, 9}, -1},
		{"descending", []int{9, 5, 1}, -1},
		{"equal times", []int{3, 3, 4}, -1},
		{"untimed in between", []int{1, 0, 5}, -1},
		{"ascending then back", []int{1, 5, 3}, 2},
		{"descending then forward", []int{9, 5, 7}, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewAccumulator(grid2x2(1, 1, 1, 1), Options{})
			require.NoError(t, err)
			for i, d := range tc.days {
				err := a.Apply(obsAt(grid2x2(0, 1, 0, 1), d))
				if i == tc.bad {
					assert.ErrorIs(t, err, raster.ErrStateConsistency)
					assert.Equal(t, i, a.Steps(), "rejected step must not be counted")
					return
				}
				require.NoError(t, err)
			}
		})
	}
}

func TestAccumulate_InvalidInput(t *testing.T) {
	_, err := Accumulate(grid2x2(1, 1, 1, 1), nil, Options{})
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)

	_, err = NewAccumulator(nil, Options{})
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)

	_, err = NewAccumulator(grid2x2(1, 1, 1, 1), Options{Policy: Policy(7)})
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"":               Consecutive,
		"consecutive":    Consecutive,
		"cumulative_sum": CumulativeSum,
		"sum":            CumulativeSum,
	} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePolicy("majority")
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)
	assert.Equal(t, "cumulative_sum", CumulativeSum.String())
}
