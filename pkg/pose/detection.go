package pose

// BBox is a box as the model emits it: X and Y are the center, W and H the
// size, all in model input pixels.
//
// IOU reads X and Y as a corner instead. The two readings disagree; both are
// kept as they are until the intended semantics are confirmed.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// TopLeft converts the center form to the top-left corner used for drawing.
func (b BBox) TopLeft() (x, y float64) {
	return b.X - b.W/2, b.Y - b.H/2
}

// Area is W*H.
func (b BBox) Area() float64 {
	return b.W * b.H
}

// Detection is one person found in a frame.
type Detection struct {
	BBox       BBox      `json:"bbox"`
	Confidence float64   `json:"confidence"`
	Keypoints  Keypoints `json:"keypoints"`
}
