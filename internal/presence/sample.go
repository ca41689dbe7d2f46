// Package presence decides whether a candidate is in front of the camera
// using a skin-tone heuristic over the centre of the frame.
package presence

import "github.com/rbright/candor/internal/media"

// DefaultThreshold is the skin-like pixel ratio above which a face counts as present.
const DefaultThreshold = 0.05

const sampleStride = 4

// SkinRatio returns the share of skin-like pixels in the central sampling
// region. ok is false when the frame has nothing to sample.
func SkinRatio(frame media.Frame) (ratio float64, ok bool) {
	if frame.Empty() {
		return 0, false
	}

	x0 := frame.Width / 4
	y0 := frame.Height / 10
	w := frame.Width / 2
	h := frame.Height * 6 / 10
	if w <= 0 || h <= 0 {
		return 0, false
	}

	var skin, total int
	for y := y0; y < y0+h; y += sampleStride {
		row := y * frame.Width * 4
		for x := x0; x < x0+w; x += sampleStride {
			i := row + x*4
			if isSkin(int(frame.Pix[i]), int(frame.Pix[i+1]), int(frame.Pix[i+2])) {
				skin++
			}
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(skin) / float64(total), true
}

// Detect reports presence for one frame. Frames that cannot be sampled
// count as present so a flaky camera never ejects a candidate.
func Detect(frame media.Frame, threshold float64) bool {
	ratio, ok := SkinRatio(frame)
	if !ok {
		return true
	}
	return ratio > threshold
}

// Sample is Detect with DefaultThreshold.
func Sample(frame media.Frame) bool {
	return Detect(frame, DefaultThreshold)
}

func isSkin(r, g, b int) bool {
	return r > 60 && r < 255 &&
		g > 40 && g < 230 &&
		b > 20 && b < 200 &&
		r > g && r > b &&
		abs(r-g) > 10
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
