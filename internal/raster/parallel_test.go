package raster

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestParallelRows_CoversEveryRowOnce(t *testing.T) {
	for _, tc := range []struct{ height, workers int }{
		{1, 4}, {7, 1}, {7, 3}, {100, 8}, {5, 16},
	} {
		seen := make([]int32, tc.height)
		err := ParallelRows(tc.height, tc.workers, func(r0, r1 int) error {
			for r := r0; r < r1; r++ {
				atomic.AddInt32(&seen[r], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("height=%d workers=%d: %v", tc.height, tc.workers, err)
		}
		for r, n := range seen {
			if n != 1 {
				t.Errorf("height=%d workers=%d: row %d visited %d times", tc.height, tc.workers, r, n)
			}
		}
	}
}

func TestParallelRows_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelRows(50, 4, func(r0, r1 int) error {
		if r0 <= 20 && 20 < r1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestParallelRows_ZeroHeight(t *testing.T) {
	called := false
	if err := ParallelRows(0, 4, func(int, int) error { called = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("fn must not run for an empty grid")
	}
}

func TestWorkers(t *testing.T) {
	if Workers(3) != 3 {
		t.Error("explicit worker count must be kept")
	}
	if Workers(0) < 1 {
		t.Error("default worker count must be positive")
	}
}
