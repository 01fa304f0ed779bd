package storage

import (
	"os"
	"path/filepath"
	"sort"
)

// Footprint is the on-disk size of one named storage location.
type Footprint struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// MeasureFootprint returns the size of each named path (database file, index
// directories, raw text directory), sorted by name. A path may be a file or a
// directory (recursively summed). Missing paths and empty names report 0.
func MeasureFootprint(paths map[string]string) ([]Footprint, error) {
	out := make([]Footprint, 0, len(paths))
	for name, p := range paths {
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Footprint{Name: name, Path: p, Bytes: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.Walk(p, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
