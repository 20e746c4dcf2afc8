package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FindMatching lists regular files directly under dir whose names match
// any of the glob patterns.
func FindMatching(dir string, patterns ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var matched []string

	for _, pattern := range patterns {
		found, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, path := range found {
			if _, ok := seen[path]; ok {
				continue
			}
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			seen[path] = struct{}{}
			matched = append(matched, path)
		}
	}

	return matched, nil
}

// RemoveMatching deletes the files FindMatching reports and returns the
// removed paths. Individual removal failures are joined into the error.
func RemoveMatching(dir string, patterns ...string) ([]string, error) {
	found, err := FindMatching(dir, patterns...)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(found))
	var errs []error
	for _, path := range found {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
