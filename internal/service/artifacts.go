package service

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// GeneratedURLPrefix is where the server exposes GeneratedDir.
const GeneratedURLPrefix = "/static/generated/"

// copyArtifact copies a finished image to dir/<jobID>.png.
func copyArtifact(src, dir, jobID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create generated dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(dir, jobID+".png")
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create artifact copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close artifact copy: %w", err)
	}
	return dst, nil
}

// pruneImages deletes all but the newest keep PNG files in dir.
func pruneImages(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read generated dir: %w", err)
	}

	type image struct {
		path    string
		modTime time.Time
	}
	var images []image
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, image{filepath.Join(dir, e.Name()), info.ModTime()})
	}

	// newest first
	slices.SortFunc(images, func(a, b image) int {
		return cmp.Compare(b.modTime.UnixNano(), a.modTime.UnixNano())
	})

	removed := 0
	var errs []error
	for i := max(keep, 0); i < len(images); i++ {
		if err := os.Remove(images[i].path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
