package fallback

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// PlaceholderSize is the edge length of rendered emergency images.
const PlaceholderSize = 768

// minimalPNG is a valid 1x1 PNG used when even rendering fails.
const minimalPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

var palettes = map[models.PlatformClass][]color.RGBA{
	models.PlatformSnapdragon: {{196, 30, 58, 255}, {255, 107, 107, 255}, {255, 165, 0, 255}},
	models.PlatformIntel:      {{0, 113, 197, 255}, {74, 144, 226, 255}, {255, 165, 0, 255}},
}

func paletteColor(class models.PlatformClass, variant int) color.RGBA {
	p, ok := palettes[class]
	if !ok {
		p = palettes[models.PlatformIntel]
	}
	if variant < 0 {
		variant = -variant
	}
	return p[variant%len(p)]
}

// RenderPlaceholder draws a size x size emergency image: a darkening
// gradient in the platform color with a simple motif for the category.
func RenderPlaceholder(class models.PlatformClass, category Category, variant, size int) ([]byte, error) {
	if size <= 0 {
		size = PlaceholderSize
	}
	base := paletteColor(class, variant)
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	for y := range size {
		k := 0.55 * (1 - float64(y)/float64(2*size))
		c := color.RGBA{scale(base.R, k), scale(base.G, k), scale(base.B, k), 255}
		for x := range size {
			img.SetRGBA(x, y, c)
		}
	}

	drawMotif(img, category, variant, base)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MinimalDataURI returns an inline 1x1 PNG.
func MinimalDataURI() string {
	return "data:image/png;base64," + minimalPNG
}

// DataURI inlines PNG bytes.
func DataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func scale(v uint8, k float64) uint8 {
	return uint8(math.Round(float64(v) * k))
}

func drawMotif(img *image.RGBA, category Category, variant int, c color.RGBA) {
	s := img.Bounds().Dx()
	f := func(v float64) int { return int(v * float64(s)) }

	switch category {
	case CategoryLandscape:
		// Mountain ridge: fill below a piecewise-linear skyline.
		ridge := []struct{ x, y float64 }{{0, .65}, {.26, .39}, {.52, .52}, {.78, .33}, {1, .46}}
		for x := range s {
			fx := float64(x) / float64(s)
			for i := 1; i < len(ridge); i++ {
				if fx <= ridge[i].x {
					t := (fx - ridge[i-1].x) / (ridge[i].x - ridge[i-1].x)
					top := f(ridge[i-1].y + t*(ridge[i].y-ridge[i-1].y))
					fillRect(img, x, top, x+1, s, c)
					break
				}
			}
		}
	case CategoryPortrait:
		ring(img, s/2, f(.43), f(.17), f(.007)+1, c)
		disc(img, f(.43), f(.38), f(.013)+1, c)
		disc(img, f(.57), f(.38), f(.013)+1, c)
	case CategoryAbstract:
		for i := range 5 + variant {
			r := f(.04) + (i*37)%max(f(.08), 1)
			disc(img, (i*211+variant*97)%s, (i*137+variant*53)%s, r, c)
		}
	case CategoryTechnology:
		step := max(f(.08), 1)
		for x := step; x < s; x += step {
			fillRect(img, x, 0, x+2, s, c)
		}
		for y := step; y < s; y += step {
			fillRect(img, 0, y, s, y+2, c)
		}
	case CategorySpace:
		for i := range 40 {
			disc(img, (i*389)%s, (i*211+variant*31)%s, 2, color.RGBA{255, 255, 255, 255})
		}
		disc(img, f(.7), f(.3), f(.12), c)
	default:
		// Horizontal bands.
		band := max(f(.06), 1)
		for i := range 3 + variant {
			y := f(.2) + i*2*band
			fillRect(img, f(.1), y, f(.9), y+band, c)
		}
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	r := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func disc(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(img.Bounds()) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func ring(img *image.RGBA, cx, cy, r, width int, c color.RGBA) {
	inner := (r - width) * (r - width)
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			d := dx*dx + dy*dy
			if d <= r*r && d >= inner && image.Pt(x, y).In(img.Bounds()) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
