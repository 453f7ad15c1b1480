package vision

import "image"

// frameDelta is the mean absolute luminance difference between two frames,
// in [0, 255]. Frames of different dimensions compare over the overlap.
func frameDelta(prev, cur image.Image) float64 {
	rect := prev.Bounds().Intersect(cur.Bounds())
	if rect.Empty() {
		return 0
	}
	a := toGray(prev, rect)
	b := toGray(cur, rect)

	var sum float64
	for i := range a.pix {
		d := a.pix[i] - b.pix[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(a.pix))
}

// sharpness is the variance of the 4-neighbor Laplacian over the frame. Low
// variance means a blurry frame (seek/transition); high variance means crisp
// rendered content.
func sharpness(frame image.Image) float64 {
	g := toGray(frame, frame.Bounds())
	if g.w < 3 || g.h < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			lap := 4*g.at(x, y) - g.at(x-1, y) - g.at(x+1, y) - g.at(x, y-1) - g.at(x, y+1)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// playing reports whether consecutive frames look like active video playback:
// enough inter-frame motion and a sharp current frame. A frozen-but-sharp
// frame (paused) and a blurry changing frame (seeking) both fail.
func playing(prev, cur image.Image, motionThreshold, blurThreshold float64) (bool, float64) {
	motion := frameDelta(prev, cur)
	if motion < motionThreshold {
		return false, motion
	}
	if sharpness(cur) < blurThreshold {
		return false, motion
	}
	return true, motion
}
