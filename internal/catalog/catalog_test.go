package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

func newTestCatalog(t *testing.T) (*Catalog, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	clock.Step = time.Second
	c.Clock = clock
	return c, clock
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mask(id, date string) Granule {
	return Granule{
		Key:        "classified/" + id + "_FMASK.grid",
		ID:         id,
		Dataset:    "s1",
		Classifier: "threshold",
		Acquired:   day(date),
		Size:       128,
	}
}

func keys(gs []Granule) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.Key
	}
	return out
}

func TestOpen_Pragmas(t *testing.T) {
	c, _ := newTestCatalog(t)

	var mode string
	require.NoError(t, c.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, c.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	var fk int
	require.NoError(t, c.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrations(t *testing.T) {
	c, _ := newTestCatalog(t)

	v, dirty, err := c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Up again is a no-op.
	require.NoError(t, c.MigrateUp())

	require.NoError(t, c.MigrateDown())
	v, _, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	_, err = c.ListRuns(context.Background(), "", 0)
	assert.Error(t, err, "runs table should be gone")

	require.NoError(t, c.MigrateUp())
	_, err = c.ListRuns(context.Background(), "", 0)
	assert.NoError(t, err)

	require.NoError(t, c.MigrateForce(1))
	v, dirty, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestMigrateVersion_Fresh(t *testing.T) {
	c, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer c.Close()

	v, dirty, err := c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)
}

func TestLatest(t *testing.T) {
	c, clock := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertGranules(ctx, []Granule{
		mask("s1/008/056/2021/01/S1A_20210105", "2021-01-05"),
		mask("s1/008/056/2021/01/S1A_20210117", "2021-01-17"),
		mask("s1/008/056/2021/01/S1A_20210129", "2021-01-29"),
		mask("s1/008/056/2021/02/S1A_20210210", "2021-02-10"),
		mask("s1/008/056/2021/02/S1B_20210210", "2021-02-10"),
		mask("s1/008/057/2021/01/S1A_20210120", "2021-01-20"),
	}))

	got, err := c.Latest(ctx, "s1/008/056/", "threshold", day("2021-02-10"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"classified/s1/008/056/2021/02/S1B_20210210_FMASK.grid",
		"classified/s1/008/056/2021/02/S1A_20210210_FMASK.grid",
		"classified/s1/008/056/2021/01/S1A_20210129_FMASK.grid",
	}, keys(got))
	assert.Equal(t, clock.Now().Add(-time.Second), got[0].IndexedAt)

	got, err = c.Latest(ctx, "s1/008/056/", "threshold", day("2021-01-20"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"classified/s1/008/056/2021/01/S1A_20210117_FMASK.grid",
		"classified/s1/008/056/2021/01/S1A_20210105_FMASK.grid",
	}, keys(got))
	assert.Equal(t, day("2021-01-17"), got[0].Acquired)

	got, err = c.Latest(ctx, "s1/008/056/", "model", day("2021-12-31"), 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.Latest(ctx, "s1/008/056/", "threshold", day("2021-12-31"), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLatest_PrefixIsLiteral(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertGranules(ctx, []Granule{
		mask("s1/a_b/2021/01/x_20210101", "2021-01-01"),
		mask("s1/axb/2021/01/x_20210101", "2021-01-01"),
	}))

	got, err := c.Latest(ctx, "s1/a_b/", "threshold", day("2021-12-31"), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUpsertGranules(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	g := mask("s1/008/056/2021/01/S1A_20210105", "2021-01-05")
	require.NoError(t, c.UpsertGranules(ctx, []Granule{g}))
	g.Size = 4096
	require.NoError(t, c.UpsertGranules(ctx, []Granule{g}))

	all, err := c.Granules(ctx, "s1/")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(4096), all[0].Size)

	require.NoError(t, c.UpsertGranules(ctx, nil))

	bad := g
	bad.Acquired = time.Time{}
	assert.Error(t, c.UpsertGranules(ctx, []Granule{bad}))
}

func TestRuns(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	first, err := c.StartRun(ctx, Run{
		Kind:   "loss",
		Region: "008/056",
		AsOf:   day("2021-02-10"),
		Policy: "consecutive",
		Inputs: []string{"b", "a"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, StatusRunning, first.Status)

	require.NoError(t, c.FinishRun(ctx, first.ID, "products/loss/008/056/loss_s1_2021-02-10.grid", nil))

	second, err := c.StartRun(ctx, Run{Kind: "diff", AsOf: day("2021-03-01")})
	require.NoError(t, err)
	require.NoError(t, c.FinishRun(ctx, second.ID, "", errors.New("boom")))

	got, err := c.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, []string{"b", "a"}, got.Inputs)
	assert.Equal(t, day("2021-02-10"), got.AsOf)
	assert.True(t, got.FinishedAt.After(got.StartedAt))
	assert.Equal(t, "products/loss/008/056/loss_s1_2021-02-10.grid", got.OutputKey)

	runs, err := c.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)

	runs, err = c.ListRuns(ctx, "loss", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].ID)

	_, err = c.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, c.FinishRun(ctx, "missing", "", nil), ErrRunNotFound)
}
