package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/blob"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/granule"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/raster"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRun_HelpAndVersion(t *testing.T) {
	out, err := runCLI(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: canopy <command>")

	out, err = runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "canopy dev"))

	_, err = runCLI(t)
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, err = runCLI(t, "reticulate")
	assert.ErrorContains(t, err, "unknown command")
}

func TestRun_RequiresDates(t *testing.T) {
	dir := t.TempDir()
	common := []string{"-store", "fs", "-store-root", filepath.Join(dir, "blobs"), "-catalog", filepath.Join(dir, "c.db")}

	_, err := runCLI(t, append([]string{"loss", "-area", "008/056"}, common...)...)
	assert.ErrorContains(t, err, "-date is required")

	_, err = runCLI(t, append([]string{"diff", "-area", "008/056", "-start", "2021-01-01", "-end", "01/02/2021"}, common...)...)
	assert.ErrorContains(t, err, "-end")
}

func TestRun_Pipeline(t *testing.T) {
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	root := filepath.Join(dir, "blobs")
	store, err := blob.NewFilesystem(root)
	require.NoError(t, err)

	// Seed a baseline and two raw granules: forest, then cleared.
	cfg := config.EmptyPipelineConfig()
	layout := granule.DefaultLayout(cfg.GetDataset())
	sink := &granule.Sink{Store: store}
	ctx := context.Background()
	put := func(key string, v float64) {
		g, err := raster.NewFilledGrid(8, 8, v, -9999)
		require.NoError(t, err)
		_, err = sink.Put(ctx, key, g, raster.Profile{Projection: "EPSG:32633"}, nil)
		require.NoError(t, err)
	}
	put(cfg.GetBaselineKey(), 1)
	for id, dn := range map[string]float64{
		"s1/008/056/2021/01/S1A_IW_GRDH_20210105T054213": 0.5,
		"s1/008/056/2021/01/S1A_IW_GRDH_20210117T054213": 0.01,
	} {
		for _, b := range cfg.GetBands() {
			put(layout.RawBand(id, b), dn)
		}
	}

	common := []string{
		"-store", "fs", "-store-root", root,
		"-catalog", filepath.Join(dir, "canopy.db"),
		"-quicklook", filepath.Join(dir, "ql"),
	}
	for _, cmd := range []string{"despeckle", "classify", "index"} {
		out, err := runCLI(t, append([]string{cmd}, common...)...)
		require.NoError(t, err, cmd)
		assert.Contains(t, out, "2 processed", cmd)
	}

	out, err := runCLI(t, append([]string{"loss", "-area", "008/056", "-date", "2021-01-31"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote products/loss/008/056/loss_s1_2021-01-31.grid")
	assert.Contains(t, out, ".html")

	_, err = os.Stat(filepath.Join(dir, "ql", "loss_008_056_loss_s1_2021-01-31.png"))
	assert.NoError(t, err)

	out, err = runCLI(t, append([]string{"runs"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")

	// A second loss run for the same date is refused unless -overwrite.
	_, err = runCLI(t, append([]string{"loss", "-area", "008/056", "-date", "2021-01-31"}, common...)...)
	assert.ErrorIs(t, err, blob.ErrExists)
	_, err = runCLI(t, append([]string{"loss", "-area", "008/056", "-date", "2021-01-31", "-overwrite"}, common...)...)
	assert.NoError(t, err)
}

func TestRun_CatalogOnlyOpenedWhenNeeded(t *testing.T) {
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "canopy.db")
	common := []string{"-store", "fs", "-store-root", dir, "-catalog", dbPath}

	for _, cmd := range []string{"despeckle", "classify"} {
		out, err := runCLI(t, append([]string{cmd}, common...)...)
		require.NoError(t, err, cmd)
		assert.Contains(t, out, "0 processed", cmd)
		_, err = os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err), "%s created the catalog", cmd)
	}

	_, err := runCLI(t, append([]string{"index"}, common...)...)
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNeedsCatalog(t *testing.T) {
	for cmd, want := range map[string]bool{
		"despeckle": false,
		"classify":  false,
		"index":     true,
		"loss":      true,
		"diff":      true,
		"runs":      true,
	} {
		assert.Equal(t, want, needsCatalog(cmd), cmd)
	}
}

func TestRun_Migrate(t *testing.T) {
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "canopy.db")

	out, err := runCLI(t, "migrate", "up", "-catalog", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = runCLI(t, "migrate", "-catalog", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")
}

func TestSplitAction(t *testing.T) {
	a, r := splitAction([]string{"force", "2", "-catalog", "x.db"})
	assert.Equal(t, []string{"force", "2"}, a)
	assert.Equal(t, []string{"-catalog", "x.db"}, r)

	a, r = splitAction([]string{"up"})
	assert.Equal(t, []string{"up"}, a)
	assert.Empty(t, r)
}
