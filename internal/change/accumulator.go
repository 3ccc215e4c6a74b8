// Package change derives forest-loss evidence from a baseline label grid and
// a temporally ordered sequence of classified observations.
package change

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Policy selects how repeated loss events at a pixel accumulate.
type Policy int

const (
	// Consecutive counts the first loss event, then increments only when
	// the previous valid observation at the pixel was also a loss event.
	Consecutive Policy = iota
	// CumulativeSum increments on every loss event.
	CumulativeSum
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Consecutive:
		return "consecutive"
	case CumulativeSum:
		return "cumulative_sum"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "consecutive":
		return Consecutive, nil
	case "cumulative_sum", "cumulative", "sum":
		return CumulativeSum, nil
	default:
		return 0, fmt.Errorf("%w: unknown accumulation policy %q", raster.ErrInvalidParameter, s)
	}
}

// Options configures an accumulation session.
type Options struct {
	Policy Policy
	// MaskNonForest writes nodata, instead of 0, where the baseline is not
	// forest.
	MaskNonForest bool
	Workers       int
}

// Observation is one classified grid and its acquisition time. A zero
// Acquired skips the ordering check for that observation.
type Observation struct {
	Labels   *raster.Grid
	Acquired time.Time
}

// pixelState is the per-pixel accumulation state.
type pixelState struct {
	count   int32
	active  bool // baseline forest; only active pixels accumulate
	lastHit bool // previous valid observation was a loss event
}

type ordering int

const (
	orderUnknown ordering = iota
	orderAscending
	orderDescending
)

// Accumulator owns the state of one accumulation run. It is not safe for
// concurrent use: observations must be applied one at a time in the order
// the caller considers chronological. Any state between steps is a usable
// snapshot.
type Accumulator struct {
	width, height int
	opts          Options
	state         []pixelState
	steps         int

	order    ordering
	lastTime time.Time
}

// NewAccumulator starts a session from a baseline label grid in which 1
// marks forest. Any other value, nodata included, keeps the pixel at zero
// for the whole run.
func NewAccumulator(baseline *raster.Grid, opts Options) (*Accumulator, error) {
	if baseline == nil {
		return nil, fmt.Errorf("%w: nil baseline", raster.ErrInvalidParameter)
	}
	if opts.Policy != Consecutive && opts.Policy != CumulativeSum {
		return nil, fmt.Errorf("%w: unknown accumulation policy %d", raster.ErrInvalidParameter, int(opts.Policy))
	}
	a := &Accumulator{
		width:  baseline.Width(),
		height: baseline.Height(),
		opts:   opts,
		state:  make([]pixelState, baseline.Len()),
	}
	for i := range a.state {
		a.state[i].active = baseline.IsValidIndex(i) && baseline.AtIndex(i) == 1
	}
	return a, nil
}

// Steps returns the number of observations applied so far.
func (a *Accumulator) Steps() int { return a.steps }

// Policy returns the session's accumulation policy.
func (a *Accumulator) Policy() Policy { return a.opts.Policy }

// checkOrder validates t against the session's ordering without mutating
// it, returning the ordering the session would have after accepting t.
func (a *Accumulator) checkOrder(t time.Time) (ordering, error) {
	if t.IsZero() || a.lastTime.IsZero() {
		return a.order, nil
	}
	var dir ordering
	switch {
	case t.After(a.lastTime):
		dir = orderAscending
	case t.Before(a.lastTime):
		dir = orderDescending
	default:
		return a.order, nil
	}
	if a.order != orderUnknown && dir != a.order {
		return a.order, fmt.Errorf("%w: observation acquired %s breaks session ordering after %s",
			raster.ErrStateConsistency, t.Format(time.RFC3339), a.lastTime.Format(time.RFC3339))
	}
	return dir, nil
}

// Apply folds one observation into the state. A pixel qualifies as a loss
// event when the observation labels it non-forest (0) and the baseline
// labelled it forest. Nodata pixels in the observation are skipped. An
// observation that is mis-registered or out of order is rejected with
// ErrStateConsistency and leaves the state untouched.
func (a *Accumulator) Apply(obs Observation) error {
	g := obs.Labels
	if g == nil {
		return fmt.Errorf("%w: nil observation", raster.ErrStateConsistency)
	}
	if g.Width() != a.width || g.Height() != a.height {
		return fmt.Errorf("%w: observation is %dx%d, session is %dx%d",
			raster.ErrStateConsistency, g.Width(), g.Height(), a.width, a.height)
	}
	order, err := a.checkOrder(obs.Acquired)
	if err != nil {
		return err
	}

	consecutive := a.opts.Policy == Consecutive
	width := a.width
	err = raster.ParallelRows(a.height, a.opts.Workers, func(r0, r1 int) error {
		for i := r0 * width; i < r1*width; i++ {
			st := &a.state[i]
			if !st.active || !g.IsValidIndex(i) {
				continue
			}
			hit := g.AtIndex(i) == 0
			switch {
			case !hit:
			case !consecutive, st.count == 0, st.lastHit:
				st.count++
			}
			st.lastHit = hit
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.steps++
	a.order = order
	if !obs.Acquired.IsZero() {
		a.lastTime = obs.Acquired
	}
	return nil
}

// Counts returns a copy of the accumulated counts, row-major.
func (a *Accumulator) Counts() []int32 {
	out := make([]int32, len(a.state))
	for i, st := range a.state {
		out[i] = st.count
	}
	return out
}

// Snapshot renders the current counts as a grid with a NaN sentinel.
func (a *Accumulator) Snapshot() *raster.Grid {
	b, _ := raster.NewBuilder(a.width, a.height, math.NaN())
	for i, st := range a.state {
		if !st.active && a.opts.MaskNonForest {
			continue
		}
		b.SetIndex(i, float64(st.count))
	}
	return b.Finish()
}

// Accumulate runs a whole session over observations in the given order and
// returns the final count grid.
func Accumulate(baseline *raster.Grid, observations []Observation, opts Options) (*raster.Grid, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: at least one observation is required", raster.ErrInvalidParameter)
	}
	a, err := NewAccumulator(baseline, opts)
	if err != nil {
		return nil, err
	}
	for i, obs := range observations {
		if err := a.Apply(obs); err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
	}
	return a.Snapshot(), nil
}
