// Package partition divides a known page span into contiguous groups so a
// fixed set of workers can each own one slice of the site.
package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/task"
)

// pagePlaceholder is the token in a URL template replaced by the page number.
const pagePlaceholder = "{page}"

// Split divides pages 1..totalUnits into numGroups contiguous ranges. Group
// sizes differ by at most one, with the larger groups first. When the total
// is zero or one the whole span collapses into a single [1,1] group, and a
// group count above the total is clamped so no group comes out empty.
func Split(totalUnits, numGroups int) ([]task.PageRange, error) {
	if numGroups <= 0 {
		return nil, fmt.Errorf("partition into %d groups: group count must be positive", numGroups)
	}
	if totalUnits <= 1 {
		return []task.PageRange{{Start: 1, End: 1}}, nil
	}
	if numGroups > totalUnits {
		numGroups = totalUnits
	}

	base := totalUnits / numGroups
	rem := totalUnits % numGroups

	ranges := make([]task.PageRange, 0, numGroups)
	start := 1
	for i := 0; i < numGroups; i++ {
		size := base
		if i < rem {
			size++
		}
		ranges = append(ranges, task.PageRange{Start: start, End: start + size - 1})
		start += size
	}
	return ranges, nil
}

// URLFor returns a function that renders the URL for a page number by
// substituting it into template. The template must contain "{page}".
func URLFor(template string) (func(page int) string, error) {
	if !strings.Contains(template, pagePlaceholder) {
		return nil, fmt.Errorf("url template %q missing %s placeholder", template, pagePlaceholder)
	}
	return func(page int) string {
		return strings.ReplaceAll(template, pagePlaceholder, strconv.Itoa(page))
	}, nil
}

// Describe expands ranges into full group descriptors with one concrete URL
// per page, ready to be handed to runners.
func Describe(ranges []task.PageRange, urlFor func(page int) string, now time.Time) []task.GroupDescriptor {
	descs := make([]task.GroupDescriptor, 0, len(ranges))
	for i, r := range ranges {
		desc := task.GroupDescriptor{
			GroupID:   fmt.Sprintf("group-%02d", i+1),
			PageRange: r,
			URLs:      make([]task.PageURL, 0, r.Count()),
			CreatedAt: now,
		}
		for page := r.Start; page <= r.End; page++ {
			desc.URLs = append(desc.URLs, task.PageURL{PageNumber: page, URL: urlFor(page)})
		}
		descs = append(descs, desc)
	}
	return descs
}

// WriteFiles persists one descriptor file per group under dir and returns
// the file paths in group order. The files are the runner payloads.
func WriteFiles(dir string, descs []task.GroupDescriptor) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create group dir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(descs))
	for _, desc := range descs {
		payload, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal group %s: %w", desc.GroupID, err)
		}
		path := filepath.Join(dir, desc.GroupID+".json")
		if err := os.WriteFile(path, payload, 0o600); err != nil {
			return nil, fmt.Errorf("write group file %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
