package fallback

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// VariantsPerCategory is the number of pre-rendered images per category
// and platform class.
const VariantsPerCategory = 3

// Asset is one pre-rendered emergency image.
type Asset struct {
	Category Category
	Class    models.PlatformClass
	Variant  int
	Path     string
}

// AssetName returns the file name for an emergency asset.
func AssetName(category Category, variant int, class models.PlatformClass) string {
	return fmt.Sprintf("emergency_%s_%d_%s.png", category, variant, class)
}

// Catalog maps (category, platform class, variant) to image files. It is
// built once and never modified afterwards. A nil Catalog is empty.
type Catalog struct {
	dir     string
	byClass map[models.PlatformClass][]Asset
}

// NewCatalog indexes the given assets.
func NewCatalog(dir string, assets []Asset) *Catalog {
	c := &Catalog{dir: dir, byClass: make(map[models.PlatformClass][]Asset)}
	for _, a := range assets {
		c.byClass[a.Class] = append(c.byClass[a.Class], a)
	}
	return c
}

// EnsureAssets makes sure every (category, variant) image exists in dir for
// each class, rendering missing ones, and returns the resulting catalog.
// Files that cannot be written are left out of the catalog; the returned
// error joins those failures.
func EnsureAssets(dir string, classes []models.PlatformClass, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewCatalog(dir, nil), fmt.Errorf("create assets dir: %w", err)
	}

	var (
		assets  []Asset
		errs    []error
		created int
	)
	for _, class := range classes {
		for _, category := range Categories() {
			for variant := range VariantsPerCategory {
				path := filepath.Join(dir, AssetName(category, variant, class))
				if _, err := os.Stat(path); err != nil {
					if err := writePlaceholder(path, class, category, variant); err != nil {
						errs = append(errs, err)
						continue
					}
					created++
				}
				assets = append(assets, Asset{Category: category, Class: class, Variant: variant, Path: path})
			}
		}
	}

	if created > 0 {
		logger.Info("rendered emergency assets", "dir", dir, "created", created)
	}
	return NewCatalog(dir, assets), errors.Join(errs...)
}

func writePlaceholder(path string, class models.PlatformClass, category Category, variant int) error {
	data, err := RenderPlaceholder(class, category, variant, PlaceholderSize)
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Dir returns the directory the catalog was built from.
func (c *Catalog) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// ForClass returns every asset for a platform class.
func (c *Catalog) ForClass(class models.PlatformClass) []Asset {
	if c == nil {
		return nil
	}
	return c.byClass[class]
}

// ForCategory returns the assets for a category on a platform class.
func (c *Catalog) ForCategory(class models.PlatformClass, category Category) []Asset {
	var out []Asset
	for _, a := range c.ForClass(class) {
		if a.Category == category {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the total number of assets.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, assets := range c.byClass {
		n += len(assets)
	}
	return n
}
