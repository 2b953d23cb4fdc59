// Package series models the input collection: individual image files grouped
// into ordered, logically related series.
//
// Grouping uses the filename convention of exported studies: the stem up to
// the second dash identifies the series, so "IMG-0003-02543.jpg" belongs to
// series "IMG-0003". Files that don't match fall into the "default" series.
package series

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// WorkItem is one unit of input content: a reference to an image file.
// Immutable once collected.
type WorkItem struct {
	// Path is the location of the image on disk.
	Path string
}

// Series is an identifier plus the ordered images belonging to it.
// Order is significant: it determines batch membership and the slice
// numbering shown to the model.
type Series struct {
	ID    string
	Items []WorkItem
}

// seriesPattern extracts the series key from a filename stem,
// e.g. "IMG-0003-02543" -> "IMG-0003".
var seriesPattern = regexp.MustCompile(`^([^-]+-[^-]+)`)

// imageExtensions lists the file types collected from the input directory.
var imageExtensions = map[string]bool{
	".dcm":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Collect recursively gathers all image files under root, sorted by path.
func Collect(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect files under %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// keyFromFilename extracts the series key from a file path, or "" if the
// stem doesn't match the expected pattern.
func keyFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	match := seriesPattern.FindStringSubmatch(stem)
	if match == nil {
		return ""
	}
	return match[1]
}

// Infer groups files into series by filename pattern. Files with no
// recognizable key collect under the "default" series. Items within each
// series are sorted by path for deterministic ordering, and the returned
// slice is sorted by series ID.
func Infer(files []string) []Series {
	groups := make(map[string][]WorkItem)

	for _, file := range files {
		id := keyFromFilename(file)
		if id == "" {
			id = "default"
		}
		groups[id] = append(groups[id], WorkItem{Path: file})
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]Series, 0, len(ids))
	for _, id := range ids {
		items := groups[id]
		sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
		result = append(result, Series{ID: id, Items: items})
	}

	return result
}

// Filter returns only the series whose IDs appear in include. An empty
// include list returns all series unchanged.
func Filter(all []Series, include []string) []Series {
	if len(include) == 0 {
		return all
	}

	wanted := make(map[string]bool, len(include))
	for _, id := range include {
		wanted[strings.TrimSpace(id)] = true
	}

	var result []Series
	for _, s := range all {
		if wanted[s.ID] {
			result = append(result, s)
		}
	}
	return result
}
