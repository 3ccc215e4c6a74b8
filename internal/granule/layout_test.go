package granule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/blob"
)

const testID = "s1/008/056/2021/03/S1A_IW_GRDH_20210315T102030"

func TestLayout_Keys(t *testing.T) {
	l := DefaultLayout("s1")

	assert.Equal(t, "raw/"+testID+"/S1A_IW_GRDH_20210315T102030_VV.grid", l.RawBand(testID, "VV"))
	assert.Equal(t, "processed/"+testID+"/S1A_IW_GRDH_20210315T102030_VH_FILTERED.grid", l.FilteredBand(testID, "VH"))
	assert.Equal(t, "classified/"+testID+"_FMASK.grid", l.Mask(testID, "threshold"))
	assert.Equal(t, "classified/"+testID+"_FMASK_MODEL.grid", l.Mask(testID, "model"))
	assert.Equal(t, "classified/s1/008/056/", l.MaskPrefix("008/056"))
	assert.Equal(t, "classified/s1/008/056/", l.MaskPrefix("s1/008/056"))
	assert.Equal(t, "classified/s1/", l.MaskPrefix(""))

	d := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "products/loss/008/056/loss_s1_2021-03-15.grid", l.Loss("008/056", d))
	assert.Equal(t, "products/diff/008/056/diff_s1_2021-01-01_2021-03-15.grid",
		l.Difference("/008/056/", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), d))
}

func TestLayout_MaskGranule(t *testing.T) {
	l := DefaultLayout("s1")
	for _, tc := range []struct {
		key     string
		id, clf string
		ok      bool
	}{
		{l.Mask(testID, "threshold"), testID, "threshold", true},
		{l.Mask(testID, "model"), testID, "model", true},
		{"classified/" + testID + "_FMASK.grid.meta", "", "", false},
		{"processed/" + testID + "_FMASK.grid", "", "", false},
		{"classified/" + testID + ".grid", "", "", false},
		{"classified/" + testID + "_FMASKED.grid", "", "", false},
	} {
		id, clf, ok := l.MaskGranule(tc.key)
		assert.Equal(t, tc.ok, ok, tc.key)
		assert.Equal(t, tc.id, id, tc.key)
		assert.Equal(t, tc.clf, clf, tc.key)
	}
}

func TestLayout_RawGranules(t *testing.T) {
	l := DefaultLayout("s1")
	other := "s1/008/056/2021/04/S1B_IW_GRDH_20210402T102030"
	infos := []blob.Info{
		{Key: l.RawBand(testID, "VV")},
		{Key: l.RawBand(testID, "VH")},
		{Key: l.RawBand(other, "VV")}, // VH missing
		{Key: l.RawBand(testID, "INC")},
		{Key: "raw/readme.txt"},
		{Key: l.FilteredBand(testID, "VV")},
	}
	assert.Equal(t, []string{testID}, l.RawGranules(infos, []string{"VV", "VH"}))
	assert.Equal(t, []string{testID, other}, l.RawGranules(infos, []string{"VV"}))
}

func TestLayout_FilteredGranules(t *testing.T) {
	l := DefaultLayout("s1")
	infos := []blob.Info{
		{Key: l.FilteredBand(testID, "VV")},
		{Key: l.FilteredBand(testID, "VH")},
		{Key: l.RawBand(testID, "VV")},
		{Key: "processed/" + testID + "/S1A_IW_GRDH_20210315T102030_VV.grid"}, // unfiltered name
	}
	assert.Equal(t, []string{testID}, l.FilteredGranules(infos, []string{"VV", "VH"}))
	assert.Empty(t, l.FilteredGranules(infos, []string{"VV", "HH"}))
}

func TestLayout_Prefixes(t *testing.T) {
	l := DefaultLayout("s1")
	assert.Equal(t, "raw/s1/", l.DatasetPrefix(l.Raw))
	assert.Equal(t, "s1/008/056/", l.RegionPrefix("008/056"))
	assert.Equal(t, "s1/008/056/", l.RegionPrefix("/s1/008/056/"))
	assert.Equal(t, "s1/", l.RegionPrefix(""))
}

func TestAcquisitionDate(t *testing.T) {
	got, err := AcquisitionDate(testID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), got)

	for _, id := range []string{
		"s1/008/056/S1A_IW_GRDH_20210315T102030",      // no year/month dirs
		"s1/008/056/2021/03/S1A_IW_GRDH_20210415T1020", // name from another month
		"s1/008/056/2021/02/S1A_IW_GRDH_20210231T1020", // impossible day
		"s1/008/056/21/03/S1A_IW_GRDH_20210315T102030",
	} {
		_, err := AcquisitionDate(id)
		assert.Error(t, err, id)
	}
}
