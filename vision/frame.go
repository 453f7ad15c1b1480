package vision

import (
	"image"
	"math"

	"github.com/certflow/certflow/platform"
)

// grayFrame is a luminance plane extracted from a frame region. Values are
// in [0, 255].
type grayFrame struct {
	w, h int
	pix  []float64
}

func (g *grayFrame) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

// cropRect clamps a platform rect to the frame bounds.
func cropRect(frame image.Image, r platform.Rect) image.Rectangle {
	b := frame.Bounds()
	rect := image.Rect(b.Min.X+r.X, b.Min.Y+r.Y, b.Min.X+r.X+r.W, b.Min.Y+r.Y+r.H)
	return rect.Intersect(b)
}

// toGray extracts the luminance plane of a frame region.
func toGray(frame image.Image, rect image.Rectangle) *grayFrame {
	w, h := rect.Dx(), rect.Dy()
	g := &grayFrame{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, gr, b, _ := frame.At(rect.Min.X+x, rect.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to [0, 255]
			g.pix[y*w+x] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)) / 257.0
		}
	}
	return g
}

// resizeGray scales a gray plane by factor using nearest-neighbor sampling.
// Template matching tolerates the artifacts and it keeps the scale sweep cheap.
func resizeGray(g *grayFrame, factor float64) *grayFrame {
	w := int(math.Round(float64(g.w) * factor))
	h := int(math.Round(float64(g.h) * factor))
	if w < 1 || h < 1 {
		return &grayFrame{w: 0, h: 0}
	}
	out := &grayFrame{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		sy := int(float64(y) / factor)
		if sy >= g.h {
			sy = g.h - 1
		}
		for x := 0; x < w; x++ {
			sx := int(float64(x) / factor)
			if sx >= g.w {
				sx = g.w - 1
			}
			out.pix[y*w+x] = g.at(sx, sy)
		}
	}
	return out
}

// rgbToHSV converts 16-bit RGBA channel values to HSV with H in degrees
// [0, 360) and S, V in [0, 1].
func rgbToHSV(r, g, b uint32) (float64, float64, float64) {
	rf := float64(r) / 65535.0
	gf := float64(g) / 65535.0
	bf := float64(b) / 65535.0

	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	var h float64
	switch {
	case delta == 0:
		h = 0
	case max == rf:
		h = 60 * math.Mod((gf-bf)/delta, 6)
	case max == gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if max > 0 {
		s = delta / max
	}
	return h, s, max
}

// inHSVRange reports whether an HSV point falls inside band. Hue bands may
// wrap through 0 (min.H > max.H), as red bands do.
func inHSVRange(h, s, v float64, band platform.HSVRange) bool {
	if s < band.Min.S || s > band.Max.S || v < band.Min.V || v > band.Max.V {
		return false
	}
	if band.Min.H <= band.Max.H {
		return h >= band.Min.H && h <= band.Max.H
	}
	return h >= band.Min.H || h <= band.Max.H
}
