package pose

import "math"

// IOU returns the intersection over union of two boxes. Both boxes are read
// with (X, Y) as a corner and (X+W, Y+H) as the opposite corner, not as the
// center form the decoder produces. A zero union yields 0.
func IOU(a, b BBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
