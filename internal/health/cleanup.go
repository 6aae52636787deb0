package health

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RemoveStale deletes files matching pattern in dirs whose modification
// time is older than maxAge. Missing directories are skipped.
func RemoveStale(dirs []string, pattern string, maxAge time.Duration, now time.Time) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			errs = append(errs, fmt.Errorf("glob %s: %w", dir, err))
			continue
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if now.Sub(info.ModTime()) <= maxAge {
				continue
			}
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
