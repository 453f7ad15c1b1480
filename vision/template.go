package vision

import (
	"image"
	_ "image/png" // platform templates are PNG
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
)

// templateScales is the scale sweep for scale-invariant matching. Platform
// UIs render at a handful of zoom levels; a small sweep covers them.
var templateScales = []float64{0.8, 0.9, 1.0, 1.1, 1.25}

// templateCache loads and caches template images by path.
type templateCache struct {
	dir string

	mu        sync.Mutex
	templates map[string]*grayFrame
}

func newTemplateCache(dir string) *templateCache {
	return &templateCache{
		dir:       dir,
		templates: make(map[string]*grayFrame),
	}
}

func (c *templateCache) get(relPath string) (*grayFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tmpl, ok := c.templates[relPath]; ok {
		return tmpl, nil
	}

	path := filepath.Join(c.dir, relPath)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open template %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode template %s", path)
	}

	tmpl := toGray(img, img.Bounds())
	c.templates[relPath] = tmpl
	return tmpl, nil
}

// matchTemplate finds the best normalized cross-correlation of tmpl within a
// frame region across the scale sweep. Returns the best score in [0, 1].
func matchTemplate(frame image.Image, region *platform.Region, tmpl *grayFrame) float64 {
	rect := cropRect(frame, region.Rect)
	if rect.Empty() {
		return 0
	}
	target := toGray(frame, rect)

	best := 0.0
	for _, scale := range templateScales {
		scaled := resizeGray(tmpl, scale)
		if scaled.w == 0 || scaled.w > target.w || scaled.h > target.h {
			continue
		}
		if score := bestNCC(target, scaled); score > best {
			best = score
		}
	}
	return best
}

// bestNCC slides tmpl over target and returns the highest normalized
// cross-correlation. A small stride keeps the scan affordable; templates are
// matched against tightly configured regions, not whole frames.
func bestNCC(target, tmpl *grayFrame) float64 {
	const stride = 2

	best := -1.0
	for oy := 0; oy+tmpl.h <= target.h; oy += stride {
		for ox := 0; ox+tmpl.w <= target.w; ox += stride {
			if score := ncc(target, tmpl, ox, oy); score > best {
				best = score
			}
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// ncc computes normalized cross-correlation of tmpl against target at offset
// (ox, oy). Zero-variance patches (flat color) score 0.
func ncc(target, tmpl *grayFrame, ox, oy int) float64 {
	n := float64(tmpl.w * tmpl.h)

	var sumT, sumP float64
	for y := 0; y < tmpl.h; y++ {
		for x := 0; x < tmpl.w; x++ {
			sumT += tmpl.at(x, y)
			sumP += target.at(ox+x, oy+y)
		}
	}
	meanT := sumT / n
	meanP := sumP / n

	var num, varT, varP float64
	for y := 0; y < tmpl.h; y++ {
		for x := 0; x < tmpl.w; x++ {
			dt := tmpl.at(x, y) - meanT
			dp := target.at(ox+x, oy+y) - meanP
			num += dt * dp
			varT += dt * dt
			varP += dp * dp
		}
	}
	if varT == 0 || varP == 0 {
		return 0
	}
	return num / math.Sqrt(varT*varP)
}
