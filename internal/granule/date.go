package granule

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// AcquisitionDate finds the acquisition day of a granule. The month and year
// are the two path elements before the name; the day is the two characters
// following the first "<year><month>" run inside the name.
func AcquisitionDate(id string) (time.Time, error) {
	dir := path.Dir(id)
	month := path.Base(dir)
	year := path.Base(path.Dir(dir))
	if len(year) != 4 || len(month) != 2 || !allDigits(year) || !allDigits(month) {
		return time.Time{}, fmt.Errorf("granule %q: no <year>/<month> directories", id)
	}
	m := regexp.MustCompile(year + month + `(\d\d)`).FindStringSubmatch(Name(id))
	if m == nil {
		return time.Time{}, fmt.Errorf("granule %q: could not find date in name", id)
	}
	t, err := time.Parse(time.DateOnly, year+"-"+month+"-"+m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("granule %q: %w", id, err)
	}
	return t, nil
}
