package vision

import (
	"image"

	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
)

// ProgressFill computes the filled fraction of a color-range progress bar
// region: matching pixel width over region width. A column counts as filled
// when at least half its pixels fall in the configured HSV band.
func ProgressFill(frame image.Image, region *platform.Region) (float64, error) {
	if region.Kind != platform.RegionColorRange || region.HSV == nil {
		return 0, errors.Newf("region %s is not a color-range region", region.ID)
	}

	rect := cropRect(frame, region.Rect)
	w, h := rect.Dx(), rect.Dy()
	if w == 0 || h == 0 {
		return 0, errors.Newf("region %s is outside the frame", region.ID)
	}

	filled := 0
	for x := 0; x < w; x++ {
		matching := 0
		for y := 0; y < h; y++ {
			r, g, b, _ := frame.At(rect.Min.X+x, rect.Min.Y+y).RGBA()
			hue, sat, val := rgbToHSV(r, g, b)
			if inHSVRange(hue, sat, val, *region.HSV) {
				matching++
			}
		}
		if matching*2 >= h {
			filled++
		}
	}
	return float64(filled) / float64(w), nil
}

// Debounce suppresses single-frame noise: a reading only counts once it has
// held for a configured number of consecutive samples. The state machine owns
// one instance per watched region and resets it on state change.
type Debounce struct {
	threshold float64
	needed    int
	streak    int
}

// NewDebounce creates a debounce requiring needed consecutive readings at or
// above threshold.
func NewDebounce(threshold float64, needed int) *Debounce {
	if needed < 1 {
		needed = 1
	}
	return &Debounce{threshold: threshold, needed: needed}
}

// Observe records one reading and reports whether the debounced condition
// holds. A reading below threshold resets the streak.
func (d *Debounce) Observe(value float64) bool {
	if value >= d.threshold {
		d.streak++
	} else {
		d.streak = 0
	}
	return d.streak >= d.needed
}

// Reset clears the streak.
func (d *Debounce) Reset() {
	d.streak = 0
}
