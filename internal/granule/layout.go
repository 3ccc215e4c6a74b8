// Package granule maps satellite granules onto blob keys and moves rasters
// between the blob store and the numeric core.
//
// A granule ID is the slash-separated path that locates one acquisition,
// e.g. "s1/008/056/2021/03/S1A_IW_GRDH_20210315T102030". The last element
// is the granule name; the two before it are the acquisition year and month.
package granule

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/canopy.report/internal/blob"
)

// Ext is the file extension of every grid blob.
const Ext = ".grid"

const (
	filteredSuffix = "_FILTERED"
	maskSuffix     = "_FMASK"
)

// Layout holds the key prefixes of each stage's products.
type Layout struct {
	Raw        string // calibrated-DN band grids, input to despeckle
	Filtered   string // despeckled gamma0 band grids
	Classified string // forest masks
	Products   string // loss and difference grids
	Dataset    string // first element of every granule ID, e.g. "s1"
}

// DefaultLayout returns the standard prefixes for dataset.
func DefaultLayout(dataset string) Layout {
	return Layout{
		Raw:        "raw",
		Filtered:   "processed",
		Classified: "classified",
		Products:   "products",
		Dataset:    dataset,
	}
}

// Name returns the final element of a granule ID.
func Name(id string) string { return path.Base(id) }

// RawBand is the key of one raw band of granule id.
func (l Layout) RawBand(id, band string) string {
	return path.Join(l.Raw, id, Name(id)+"_"+band+Ext)
}

// FilteredBand is the key of one despeckled band of granule id.
func (l Layout) FilteredBand(id, band string) string {
	return path.Join(l.Filtered, id, Name(id)+"_"+band+filteredSuffix+Ext)
}

// Mask is the key of the forest mask of granule id produced by classifier.
// The threshold rule keeps the bare suffix; other classifiers append their
// name so masks from different rules can coexist.
func (l Layout) Mask(id, classifier string) string {
	suffix := maskSuffix
	if classifier != "" && classifier != "threshold" {
		suffix += "_" + strings.ToUpper(classifier)
	}
	return path.Join(l.Classified, id+suffix+Ext)
}

// MaskPrefix is the listing prefix for masks under region, a granule ID
// prefix such as "s1/008/056".
func (l Layout) MaskPrefix(region string) string {
	return path.Join(l.Classified, l.Dataset, strings.TrimPrefix(region, l.Dataset+"/")) + "/"
}

// Loss is the key of the loss grid for region as of date.
func (l Layout) Loss(region string, date time.Time) string {
	name := fmt.Sprintf("loss_%s_%s%s", l.Dataset, date.Format(time.DateOnly), Ext)
	return path.Join(l.Products, "loss", strings.Trim(region, "/"), name)
}

// Difference is the key of a two-date difference grid for region.
func (l Layout) Difference(region string, start, end time.Time) string {
	name := fmt.Sprintf("diff_%s_%s_%s%s", l.Dataset, start.Format(time.DateOnly), end.Format(time.DateOnly), Ext)
	return path.Join(l.Products, "diff", strings.Trim(region, "/"), name)
}

// RawGranules groups a listing of the raw prefix into granule IDs that carry
// every band in bands. IDs are returned sorted.
func (l Layout) RawGranules(infos []blob.Info, bands []string) []string {
	return groupBands(l.Raw, "", infos, bands)
}

// FilteredGranules is RawGranules for the despeckled prefix.
func (l Layout) FilteredGranules(infos []blob.Info, bands []string) []string {
	return groupBands(l.Filtered, filteredSuffix, infos, bands)
}

func groupBands(prefix, suffix string, infos []blob.Info, bands []string) []string {
	want := make(map[string]bool, len(bands))
	for _, b := range bands {
		want[b] = true
	}
	found := make(map[string]map[string]bool)
	root := strings.TrimSuffix(prefix, "/") + "/"
	for _, inf := range infos {
		if !strings.HasPrefix(inf.Key, root) || !strings.HasSuffix(inf.Key, suffix+Ext) {
			continue
		}
		id := path.Dir(strings.TrimPrefix(inf.Key, root))
		stem := strings.TrimSuffix(path.Base(inf.Key), suffix+Ext)
		band, ok := strings.CutPrefix(stem, Name(id)+"_")
		if !ok || !want[band] {
			continue
		}
		if found[id] == nil {
			found[id] = make(map[string]bool, len(bands))
		}
		found[id][band] = true
	}
	var ids []string
	for id, got := range found {
		if len(got) == len(want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DatasetPrefix is the listing prefix of one stage root for this dataset,
// e.g. "raw/s1/".
func (l Layout) DatasetPrefix(root string) string {
	return path.Join(root, l.Dataset) + "/"
}

// RegionPrefix is the granule ID prefix of region, e.g. "s1/008/056/".
func (l Layout) RegionPrefix(region string) string {
	return path.Join(l.Dataset, strings.TrimPrefix(strings.Trim(region, "/"), l.Dataset+"/")) + "/"
}

// MaskGranule recovers the granule ID and classifier name from a mask key.
func (l Layout) MaskGranule(key string) (id, classifier string, ok bool) {
	root := strings.TrimSuffix(l.Classified, "/") + "/"
	if !strings.HasPrefix(key, root) || !strings.HasSuffix(key, Ext) {
		return "", "", false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(key, root), Ext)
	i := strings.LastIndex(stem, maskSuffix)
	if i <= 0 || strings.Contains(stem[i:], "/") {
		return "", "", false
	}
	classifier = "threshold"
	if rest := stem[i+len(maskSuffix):]; rest != "" {
		name, found := strings.CutPrefix(rest, "_")
		if !found || name == "" {
			return "", "", false
		}
		classifier = strings.ToLower(name)
	}
	return stem[:i], classifier, true
}
